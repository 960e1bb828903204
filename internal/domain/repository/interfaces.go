package repository

import (
	"context"
	"errors"

	"FinPilot/internal/domain/models"
)

var ErrNotFound = errors.New("record not found")

// RunStore persists model snapshots and pipeline run records.
type RunStore interface {
	InsertSnapshot(ctx context.Context, s *models.Snapshot) (string, error)
	// LatestSnapshot returns nil, nil when no snapshot exists yet.
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	RecentSnapshots(ctx context.Context, n int) ([]*models.Snapshot, error)

	InsertPipelineRun(ctx context.Context, run *models.PipelineRun) (string, error)
	UpdatePipelineRun(ctx context.Context, id string, upd models.PipelineRunUpdate) error
	GetPipelineRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListPipelineRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error)
	ListStuckRuns(ctx context.Context) ([]*models.PipelineRun, error)
}

type AlertStore interface {
	InsertAlerts(ctx context.Context, snapshotID string, candidates []models.AlertCandidate) ([]models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	CountAlertsBySnapshot(ctx context.Context, snapshotID string) (int, error)
	MarkAlertRead(ctx context.Context, id string) error
	DismissAlert(ctx context.Context, id string) error
}

type ChangelogStore interface {
	InsertChangelog(ctx context.Context, entry *models.ChangelogEntry) (string, error)
	ListChangelog(ctx context.Context, limit int) ([]models.ChangelogEntry, error)
}

type PortfolioStore interface {
	// ActivePortfolio returns nil, nil when no portfolio is configured.
	ActivePortfolio(ctx context.Context) (*models.PortfolioConfig, error)
	SavePortfolio(ctx context.Context, p *models.PortfolioConfig) error
}

// Store is the full persistence surface backed by one database.
type Store interface {
	RunStore
	AlertStore
	ChangelogStore
	PortfolioStore
	Health(ctx context.Context) error
	Close() error
}

// Publisher sends JSON payloads to a message topic.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
	Close() error
}

type Metrics interface {
	RecordRun(trigger, status string)
	RecordStep(step, status string, seconds float64)
	RecordStepRetry(step string)
	RecordAlert(kind, severity string)
	RecordNotification(result string)
	RecordMirrorFailure(op string)
	RecordSourceHealth(source string, status models.HealthStatus)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
