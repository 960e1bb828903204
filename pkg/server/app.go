package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/internal/usecase"
	"FinPilot/pkg/config"
	xhttp "FinPilot/pkg/http"
	pkgkafka "FinPilot/pkg/kafka"
	applogger "FinPilot/pkg/logger"
)

// TriggerConsumer pairs the Kafka consumer with the manual-trigger handler.
type TriggerConsumer struct {
	Consumer *pkgkafka.Consumer
	Handler  pkgkafka.MessageHandler
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	store      domrepo.RunStore
	orch       *usecase.Orchestrator
	scheduler  *usecase.Scheduler
	consumer   *TriggerConsumer
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	store domrepo.RunStore,
	orch *usecase.Orchestrator,
	scheduler *usecase.Scheduler,
	consumer *TriggerConsumer,
	httpServer *xhttp.Server,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		orch:       orch,
		scheduler:  scheduler,
		consumer:   consumer,
		httpServer: httpServer,
	}
}

// Orchestrator exposes the pipeline for one-shot CLI commands.
func (a *App) Orchestrator() *usecase.Orchestrator { return a.orch }

// Run starts the application and blocks until interrupted or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Runs left "running" by a previous process can never finish.
	if n, err := a.orch.RecoverInterrupted(ctx); err != nil {
		a.log.Warn("crash recovery incomplete", applogger.Int("recovered", n), applogger.Error(err))
	} else if n > 0 {
		a.log.Info("crash recovery complete", applogger.Int("recovered", n))
	}

	if a.cfg.Pipeline.RunOnStartup {
		a.scheduler.CatchUp(ctx, a.store)
	}

	a.scheduler.Start(ctx)
	a.log.Info("scheduler started", applogger.Time("next_run", a.scheduler.Next()))

	if a.consumer != nil {
		a.consumer.Consumer.RegisterHandler(a.consumer.Handler)
		go func() {
			if err := a.consumer.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.consumer.Handler.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		a.log.Info("shutdown signal received")
	case <-ctx.Done():
		a.log.Info("context cancelled, shutting down")
	}
	return a.shutdown()
}

// RunOnce executes one manual pipeline run in the foreground. It does not
// sweep stuck runs: a server sharing the store may own a live one.
func (a *App) RunOnce(ctx context.Context, triggeredBy string) usecase.ExecuteResult {
	return a.orch.Execute(ctx, models.TriggerManual, triggeredBy)
}

// Recover marks runs stuck in "running" as failed.
func (a *App) Recover(ctx context.Context) (int, error) {
	return a.orch.RecoverInterrupted(ctx)
}

// RecentRuns lists the newest run records.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	return a.store.ListPipelineRuns(ctx, limit)
}

// shutdown gracefully stops all services. Closing clients is left to the
// injector cleanup.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.scheduler.Stop()

	if a.consumer != nil {
		if err := a.consumer.Consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// An unfinished run is marked interrupted by the next startup.
	if !a.waitIdle(shutdownCtx) {
		a.log.Warn("pipeline still running at shutdown", applogger.String("run_id", a.orch.Status().RunID))
	}

	a.log.Info("shutdown complete")
	return nil
}

func (a *App) waitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for a.orch.IsRunning() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}
