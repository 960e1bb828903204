package usecase

import (
	"context"
	"fmt"
	"time"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	domsvc "FinPilot/internal/domain/service"
	"FinPilot/internal/services/changes"
	"FinPilot/pkg/logger"
	pkgmetrics "FinPilot/pkg/metrics"
)

// ModelRunUseCase invokes the model and derives alerts and the changelog
// from the new snapshot.
type ModelRunUseCase struct {
	runner    domsvc.ModelRunner
	store     domrepo.Store
	detector  *changes.Detector
	changelog *changes.ChangelogBuilder
	metrics   domrepo.Metrics
	log       *logger.Logger
}

var _ domsvc.ModelInvoker = (*ModelRunUseCase)(nil)

func NewModelRunUseCase(runner domsvc.ModelRunner, store domrepo.Store, metrics domrepo.Metrics, log *logger.Logger) *ModelRunUseCase {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &ModelRunUseCase{
		runner:    runner,
		store:     store,
		detector:  changes.NewDetector(),
		changelog: changes.NewChangelogBuilder(),
		metrics:   metrics,
		log:       log,
	}
}

// Run fails only when the model or the snapshot insert fails. Detection and
// changelog problems are logged and yield zero alerts.
func (uc *ModelRunUseCase) Run(ctx context.Context) (*models.ModelRunResult, error) {
	start := time.Now()
	snap, err := uc.runner.Run(ctx)
	uc.metrics.RecordLatency("model_run_seconds", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("model_run")
		return nil, err
	}

	id, err := uc.store.InsertSnapshot(ctx, snap)
	if err != nil {
		uc.metrics.RecordError("snapshot_insert")
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	snap.ID = id

	result := &models.ModelRunResult{
		Snapshot:   snap,
		Source:     uc.runner.Name(),
		Candidates: []models.AlertCandidate{},
	}
	uc.deriveChanges(ctx, result)

	uc.log.Info("Model run stored",
		logger.String("snapshot_id", id),
		logger.String("source", result.Source),
		logger.String("regime", snap.Metrics.Regime.Label),
		logger.Int("alerts", result.AlertCount))
	return result, nil
}

func (uc *ModelRunUseCase) deriveChanges(ctx context.Context, result *models.ModelRunResult) {
	defer func() {
		if r := recover(); r != nil {
			uc.metrics.RecordError("change_detection")
			uc.log.Error("Change detection panicked", logger.Any("panic", r))
		}
	}()

	recent, err := uc.store.RecentSnapshots(ctx, 2)
	if err != nil {
		uc.metrics.RecordError("change_detection")
		uc.log.Error("Failed to load snapshots for comparison", logger.Error(err))
		return
	}
	if len(recent) == 0 {
		uc.log.Warn("Stored snapshot not found for comparison", logger.String("snapshot_id", result.Snapshot.ID))
		return
	}
	current := *recent[0]
	var previous *models.Snapshot
	if len(recent) > 1 {
		previous = recent[1]
	}

	candidates := uc.detector.Detect(current, previous)
	if len(candidates) > 0 {
		alerts, err := uc.store.InsertAlerts(ctx, current.ID, candidates)
		if err != nil {
			uc.metrics.RecordError("alert_insert")
			uc.log.Error("Failed to persist alerts", logger.Error(err), logger.Int("candidates", len(candidates)))
		} else {
			result.Candidates = candidates
			result.AlertCount = len(alerts)
			for _, c := range candidates {
				uc.metrics.RecordAlert(string(c.Kind), string(c.Severity))
			}
		}
	}

	entry := uc.changelog.Build(current, previous)
	entryID, err := uc.store.InsertChangelog(ctx, &entry)
	if err != nil {
		uc.metrics.RecordError("changelog_insert")
		uc.log.Error("Failed to persist changelog", logger.Error(err))
		return
	}
	entry.ID = entryID
	result.Changelog = &entry
}
