package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	domsvc "FinPilot/internal/domain/service"
	"FinPilot/internal/services/health"
	"FinPilot/internal/services/notify"
	"FinPilot/pkg/logger"
)

// Step names in execution order.
const (
	StepDataIngest = "data_ingest"
	StepModelRun   = "model_run"
	StepAlerts     = "alerts"
	StepPortfolio  = "portfolio"
	StepBacktest   = "backtest"
	StepNotify     = "notify"
)

// Notifier sends the end-of-run notifications and ad-hoc messages.
type Notifier interface {
	Dispatch(ctx context.Context, candidates []models.AlertCandidate, summary notify.RunSummary) notify.DispatchReport
	Notify(ctx context.Context, title, body string) bool
}

var _ Notifier = (*notify.Dispatcher)(nil)

// StepDef is one entry of the pipeline. Run returns the step's message.
type StepDef struct {
	Name      string
	Label     string
	Retryable bool
	Run       func(ctx context.Context, rc *RunContext) (string, error)
}

// RunContext carries values produced by earlier steps to later ones.
type RunContext struct {
	RunID          string
	Sources        []models.SourceHealth
	SourcesHealthy int
	SourcesDown    int
	Model          *models.ModelRunResult
	AlertCount     int
	Portfolio      bool
	BacktestFresh  bool
	Notifications  notify.DispatchReport
}

// Summary builds the run summary persisted on completion.
func (rc *RunContext) Summary() map[string]interface{} {
	s := map[string]interface{}{
		"alertCount":        rc.AlertCount,
		"sourcesHealthy":    rc.SourcesHealthy,
		"sourcesDown":       rc.SourcesDown,
		"portfolio":         rc.Portfolio,
		"backtestFresh":     rc.BacktestFresh,
		"notificationsSent": rc.Notifications.Sent,
	}
	if rc.Model != nil && rc.Model.Snapshot != nil {
		m := rc.Model.Snapshot.Metrics
		s["regime"] = m.Regime.Label
		s["compositeScore"] = m.CompositeScore
		s["direction"] = string(m.Direction)
		s["snapshotId"] = rc.Model.Snapshot.ID
	}
	return s
}

func (rc *RunContext) notifySummary() notify.RunSummary {
	out := notify.RunSummary{
		RunID:          rc.RunID,
		AlertCount:     rc.AlertCount,
		SourcesHealthy: rc.SourcesHealthy,
		SourcesDown:    rc.SourcesDown,
		Portfolio:      rc.Portfolio,
		BacktestFresh:  rc.BacktestFresh,
	}
	if rc.Model != nil && rc.Model.Snapshot != nil {
		m := rc.Model.Snapshot.Metrics
		out.Regime = m.Regime.Label
		out.CompositeScore = m.CompositeScore
		out.Direction = m.Direction
	}
	return out
}

// StepConfig holds the business thresholds of the steps.
type StepConfig struct {
	MaxSourcesDown int
	BacktestMaxAge time.Duration
}

// PipelineSteps builds the fixed step list.
type PipelineSteps struct {
	cfg      StepConfig
	probe    domsvc.HealthProbe
	invoker  domsvc.ModelInvoker
	store    domrepo.Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

func NewPipelineSteps(cfg StepConfig, probe domsvc.HealthProbe, invoker domsvc.ModelInvoker, store domrepo.Store, notifier Notifier, log *logger.Logger) *PipelineSteps {
	if log == nil {
		log = logger.Nop()
	}
	return &PipelineSteps{cfg: cfg, probe: probe, invoker: invoker, store: store, notifier: notifier, log: log, now: time.Now}
}

// Defs returns the steps in execution order. Only notify is excluded from retry.
func (p *PipelineSteps) Defs() []StepDef {
	return []StepDef{
		{Name: StepDataIngest, Label: "Data ingestion", Retryable: true, Run: p.dataIngest},
		{Name: StepModelRun, Label: "Model computation", Retryable: true, Run: p.modelRun},
		{Name: StepAlerts, Label: "Alert generation", Retryable: true, Run: p.alerts},
		{Name: StepPortfolio, Label: "Portfolio check", Retryable: true, Run: p.portfolio},
		{Name: StepBacktest, Label: "Backtest freshness", Retryable: true, Run: p.backtest},
		{Name: StepNotify, Label: "Notifications", Retryable: false, Run: p.sendNotifications},
	}
}

func (p *PipelineSteps) dataIngest(ctx context.Context, rc *RunContext) (string, error) {
	results := p.probe.CheckAll(ctx)
	healthy, degraded, down := health.Tally(results)
	rc.Sources = results
	rc.SourcesHealthy = healthy
	rc.SourcesDown = down

	if down > p.cfg.MaxSourcesDown {
		var names []string
		for _, r := range results {
			if r.Status == models.HealthDown {
				names = append(names, r.Name)
			}
		}
		return "", fmt.Errorf("too many data sources down: %d of %d (max %d): %s",
			down, len(results), p.cfg.MaxSourcesDown, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%d/%d sources healthy, %d degraded, %d down", healthy, len(results), degraded, down), nil
}

func (p *PipelineSteps) modelRun(ctx context.Context, rc *RunContext) (string, error) {
	res, err := p.invoker.Run(ctx)
	if err != nil {
		return "", err
	}
	rc.Model = res
	return fmt.Sprintf("Snapshot %s stored from %s (regime %s)", res.Snapshot.ID, res.Source, res.Snapshot.Metrics.Regime.Label), nil
}

func (p *PipelineSteps) alerts(ctx context.Context, rc *RunContext) (string, error) {
	if rc.Model == nil || rc.Model.Snapshot == nil {
		return "", fmt.Errorf("no snapshot from model_run")
	}
	n, err := p.store.CountAlertsBySnapshot(ctx, rc.Model.Snapshot.ID)
	if err != nil {
		return "", fmt.Errorf("count alerts: %w", err)
	}
	rc.AlertCount = n
	if n == 0 {
		return "No alerts generated", nil
	}
	return fmt.Sprintf("%d alerts generated", n), nil
}

func (p *PipelineSteps) portfolio(ctx context.Context, rc *RunContext) (string, error) {
	pf, err := p.store.ActivePortfolio(ctx)
	if err != nil {
		p.log.Warn("Portfolio lookup failed", logger.Error(err))
		return "Portfolio check unavailable", nil
	}
	if pf == nil {
		return "No active portfolio configured", nil
	}
	rc.Portfolio = true
	return fmt.Sprintf("Active portfolio %q with %d positions", pf.Name, len(pf.Weights)), nil
}

func (p *PipelineSteps) backtest(_ context.Context, rc *RunContext) (string, error) {
	if rc.Model == nil || rc.Model.Snapshot == nil || rc.Model.Snapshot.Metrics.Backtest == nil {
		return "No backtest metrics in latest snapshot", nil
	}
	bt := rc.Model.Snapshot.Metrics.Backtest
	age := p.now().Sub(bt.AsOf)
	if p.cfg.BacktestMaxAge > 0 && age > p.cfg.BacktestMaxAge {
		return fmt.Sprintf("Backtest is stale (as of %s)", bt.AsOf.UTC().Format("2006-01-02")), nil
	}
	rc.BacktestFresh = true
	return fmt.Sprintf("Backtest is fresh (sharpe %.2f, max drawdown %.1f%%)", bt.Sharpe, bt.MaxDrawdownPct), nil
}

func (p *PipelineSteps) sendNotifications(ctx context.Context, rc *RunContext) (string, error) {
	var candidates []models.AlertCandidate
	if rc.Model != nil {
		candidates = rc.Model.Candidates
	}
	rc.Notifications = p.notifier.Dispatch(ctx, candidates, rc.notifySummary())
	if rc.Notifications.Failed > 0 {
		return fmt.Sprintf("%d notifications sent, %d failed", rc.Notifications.Sent, rc.Notifications.Failed), nil
	}
	return fmt.Sprintf("%d notifications sent", rc.Notifications.Sent), nil
}
