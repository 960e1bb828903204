package service

import (
	"context"

	"FinPilot/internal/domain/models"
)

// HealthProbe checks every registered external data source.
type HealthProbe interface {
	CheckAll(ctx context.Context) []models.SourceHealth
}

// ModelRunner triggers the external computation and parses its snapshot.
type ModelRunner interface {
	Name() string
	Run(ctx context.Context) (*models.Snapshot, error)
}

// ModelInvoker runs the model and, on success, persists the snapshot together
// with the alerts and changelog derived from it.
type ModelInvoker interface {
	Run(ctx context.Context) (*models.ModelRunResult, error)
}

// NotificationTransport delivers one outbound message. It reports delivery
// instead of returning an error.
type NotificationTransport interface {
	Notify(ctx context.Context, title, body string) bool
}
