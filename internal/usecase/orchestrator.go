package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	domsvc "FinPilot/internal/domain/service"
	"FinPilot/pkg/cache"
	"FinPilot/pkg/logger"
	pkgmetrics "FinPilot/pkg/metrics"
)

// StatusCacheKey holds the last published status snapshot.
const StatusCacheKey = "pipeline:status"

const statusCacheTTL = 24 * time.Hour

// ExecuteResult is the outcome of one pipeline attempt.
type ExecuteResult struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func failedResult(runID string, err error) ExecuteResult {
	return ExecuteResult{RunID: runID, Error: err.Error(), Err: err}
}

// runState is the authoritative in-memory view of the active run.
type runState struct {
	run     models.PipelineRun
	defs    []StepDef
	rc      *RunContext
	started time.Time
}

// Orchestrator sequences the pipeline steps. At most one run or bare model
// invocation is in flight per instance.
type Orchestrator struct {
	running atomic.Bool

	steps    func() []StepDef
	store    domrepo.RunStore
	invoker  domsvc.ModelInvoker
	notifier Notifier
	retry    *RetryController
	mirror   *MirrorWriter
	cache    cache.Service
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu    sync.RWMutex
	state *runState

	listenersMu sync.Mutex
	listeners   []func(ExecuteResult)
}

type OrchestratorOption func(*Orchestrator)

// WithStatusCache mirrors the status snapshot into c after every transition.
func WithStatusCache(c cache.Service) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = c }
}

func WithRetryController(rc *RetryController) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = rc }
}

func WithOrchestratorLogger(l *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithOrchestratorMetrics(m domrepo.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(steps *PipelineSteps, store domrepo.RunStore, invoker domsvc.ModelInvoker, notifier Notifier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		steps:    steps.Defs,
		store:    store,
		invoker:  invoker,
		notifier: notifier,
		metrics:  pkgmetrics.Nop{},
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry == nil {
		o.retry = NewRetryController(DefaultRetryPolicy())
	}
	o.mirror = NewMirrorWriter(o.metrics, o.log)
	o.mirror.now = o.now
	steps.now = o.now
	return o
}

// Mirror exposes the non-fatal write log.
func (o *Orchestrator) Mirror() *MirrorWriter { return o.mirror }

// IsRunning reports whether a run or model invocation holds the guard.
func (o *Orchestrator) IsRunning() bool { return o.running.Load() }

// OnFinish registers fn to be called after every run is finalized.
func (o *Orchestrator) OnFinish(fn func(ExecuteResult)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Execute runs the pipeline synchronously. A concurrent caller gets
// models.ErrAlreadyRunning immediately.
func (o *Orchestrator) Execute(ctx context.Context, trigger models.TriggerType, triggeredBy string) ExecuteResult {
	if !o.running.CompareAndSwap(false, true) {
		return failedResult("", models.ErrAlreadyRunning)
	}
	defer o.running.Store(false)

	st := o.begin(ctx, trigger, triggeredBy)
	return o.run(ctx, st)
}

// Start acquires the guard and creates the run record synchronously, then
// runs the steps in the background on a context detached from ctx.
func (o *Orchestrator) Start(ctx context.Context, trigger models.TriggerType, triggeredBy string) (string, <-chan ExecuteResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", nil, models.ErrAlreadyRunning
	}
	bg := context.WithoutCancel(ctx)
	st := o.begin(bg, trigger, triggeredBy)

	done := make(chan ExecuteResult, 1)
	go func() {
		defer o.running.Store(false)
		done <- o.run(bg, st)
		close(done)
	}()
	return st.run.ID, done, nil
}

// RunModel invokes the model outside of a pipeline run, sharing the guard.
func (o *Orchestrator) RunModel(ctx context.Context) (*models.ModelRunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, models.ErrAlreadyRunning
	}
	defer o.running.Store(false)
	return o.invoker.Run(ctx)
}

// Status returns a copy of the active run's progress or the idle shape.
func (o *Orchestrator) Status() models.StatusSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() models.StatusSnapshot {
	if o.state == nil {
		return models.IdleStatus()
	}
	r := o.state.run
	progress := 0
	if r.TotalSteps > 0 {
		progress = int(math.Round(100 * float64(r.CompletedSteps) / float64(r.TotalSteps)))
	}
	return models.StatusSnapshot{
		IsRunning:       true,
		RunID:           r.ID,
		TriggerType:     r.TriggerType,
		CurrentStepName: r.CurrentStepName,
		ProgressPercent: progress,
		Steps:           models.CloneSteps(r.Steps),
	}
}

// RecoverInterrupted marks every persisted running record failed. The run
// active in this process, if any, is left alone.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := o.store.ListStuckRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stuck runs: %w", err)
	}

	activeID := ""
	o.mu.RLock()
	if o.state != nil {
		activeID = o.state.run.ID
	}
	o.mu.RUnlock()

	var (
		recovered int
		errs      []error
	)
	for _, run := range stuck {
		if run.ID == activeID {
			continue
		}
		now := o.now().UTC()
		steps := models.CloneSteps(run.Steps)
		for i, s := range steps {
			if s.Status == models.StepRunning {
				steps[i] = s.Fail(models.InterruptedMessage, now)
			}
		}
		status := models.RunFailed
		msg := models.InterruptedMessage
		duration := now.Sub(run.StartedAt).Milliseconds()
		if err := o.store.UpdatePipelineRun(ctx, run.ID, models.PipelineRunUpdate{
			Status:       &status,
			Steps:        steps,
			CompletedAt:  &now,
			DurationMs:   &duration,
			ErrorMessage: &msg,
		}); err != nil {
			errs = append(errs, fmt.Errorf("recover run %s: %w", run.ID, err))
			continue
		}
		recovered++
		o.metrics.RecordRun(string(run.TriggerType), "interrupted")
		o.log.Warn("Marked interrupted pipeline run as failed",
			logger.String("run_id", run.ID),
			logger.String("step", run.CurrentStepName))
	}
	return recovered, errors.Join(errs...)
}

func (o *Orchestrator) begin(ctx context.Context, trigger models.TriggerType, triggeredBy string) *runState {
	defs := o.steps()
	steps := make([]models.Step, len(defs))
	for i, d := range defs {
		steps[i] = models.NewStep(d.Name, d.Label)
	}
	now := o.now().UTC()
	st := &runState{
		run: models.PipelineRun{
			ID:          uuid.NewString(),
			TriggerType: trigger,
			TriggeredBy: triggeredBy,
			Status:      models.RunRunning,
			TotalSteps:  len(defs),
			Steps:       steps,
			StartedAt:   now,
		},
		defs:    defs,
		started: now,
	}
	st.rc = &RunContext{RunID: st.run.ID}

	o.mu.Lock()
	o.state = st
	record := st.run
	record.Steps = models.CloneSteps(steps)
	o.mu.Unlock()

	o.mirror.Write(ctx, "insert_run", func(ctx context.Context) error {
		_, err := o.store.InsertPipelineRun(ctx, &record)
		return err
	})
	o.publishStatus(ctx)

	o.log.Info("Pipeline run started",
		logger.String("run_id", st.run.ID),
		logger.String("trigger", string(trigger)),
		logger.String("triggered_by", triggeredBy))
	return st
}

func (o *Orchestrator) run(ctx context.Context, st *runState) ExecuteResult {
	for i, def := range st.defs {
		o.apply(ctx, func(r *models.PipelineRun) {
			r.CurrentStepName = def.Name
			r.Steps[i] = r.Steps[i].Begin(o.now().UTC())
		})

		stepStart := o.now()
		msg, err := o.retry.Do(ctx, def.Retryable, func(ctx context.Context) (string, error) {
			return o.attempt(ctx, def, st.rc)
		}, func(retry int, err error, delay time.Duration) {
			o.metrics.RecordStepRetry(def.Name)
			o.log.Warn("Pipeline step failed, retrying",
				logger.String("run_id", st.run.ID),
				logger.String("step", def.Name),
				logger.Int("retry", retry),
				logger.Duration("delay_ms", delay),
				logger.Error(err))
			o.apply(ctx, func(r *models.PipelineRun) {
				r.Steps[i] = r.Steps[i].Retry(err, o.now().UTC())
			})
		})
		elapsed := o.now().Sub(stepStart).Seconds()

		if err != nil {
			o.metrics.RecordStep(def.Name, string(models.StepFailed), elapsed)
			o.apply(ctx, func(r *models.PipelineRun) {
				r.Steps[i] = r.Steps[i].Fail(err.Error(), o.now().UTC())
			})
			o.log.Error("Pipeline step failed",
				logger.String("run_id", st.run.ID),
				logger.String("step", def.Name),
				logger.Error(err))
			return o.finish(ctx, st, err)
		}

		o.metrics.RecordStep(def.Name, string(models.StepCompleted), elapsed)
		o.apply(ctx, func(r *models.PipelineRun) {
			r.Steps[i] = r.Steps[i].Complete(msg, o.now().UTC())
			r.CompletedSteps++
		})
		o.log.Info("Pipeline step completed",
			logger.String("run_id", st.run.ID),
			logger.String("step", def.Name),
			logger.String("message", msg))
	}
	return o.finish(ctx, st, nil)
}

// attempt runs one try of a step, turning a panic into an error.
func (o *Orchestrator) attempt(ctx context.Context, def StepDef, rc *RunContext) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", def.Name, r)
		}
	}()
	return def.Run(ctx, rc)
}

// apply folds a transition into the in-memory run and mirrors it.
func (o *Orchestrator) apply(ctx context.Context, fn func(r *models.PipelineRun)) {
	o.mu.Lock()
	st := o.state
	if st == nil {
		o.mu.Unlock()
		return
	}
	fn(&st.run)
	id := st.run.ID
	current := st.run.CurrentStepName
	completed := st.run.CompletedSteps
	steps := models.CloneSteps(st.run.Steps)
	o.mu.Unlock()

	o.mirror.Write(ctx, "update_run", func(ctx context.Context) error {
		return o.store.UpdatePipelineRun(ctx, id, models.PipelineRunUpdate{
			CurrentStepName: &current,
			CompletedSteps:  &completed,
			Steps:           steps,
		})
	})
	o.publishStatus(ctx)
}

func (o *Orchestrator) finish(ctx context.Context, st *runState, stepErr error) ExecuteResult {
	now := o.now().UTC()
	summary := st.rc.Summary()

	o.mu.Lock()
	r := &st.run
	r.CompletedAt = &now
	r.DurationMs = now.Sub(st.started).Milliseconds()
	r.Summary = summary
	if stepErr != nil {
		r.Status = models.RunFailed
		r.ErrorMessage = stepErr.Error()
	} else {
		r.Status = models.RunCompleted
	}
	final := *r
	final.Steps = models.CloneSteps(r.Steps)
	o.mu.Unlock()

	o.mirror.Write(ctx, "finalize_run", func(ctx context.Context) error {
		upd := models.PipelineRunUpdate{
			Status:          &final.Status,
			CurrentStepName: &final.CurrentStepName,
			CompletedSteps:  &final.CompletedSteps,
			Steps:           final.Steps,
			CompletedAt:     final.CompletedAt,
			DurationMs:      &final.DurationMs,
			Summary:         final.Summary,
		}
		if stepErr != nil {
			upd.ErrorMessage = &final.ErrorMessage
		}
		return o.store.UpdatePipelineRun(ctx, final.ID, upd)
	})

	o.mu.Lock()
	o.state = nil
	o.mu.Unlock()
	o.publishStatus(ctx)

	o.metrics.RecordRun(string(final.TriggerType), string(final.Status))

	var res ExecuteResult
	if stepErr != nil {
		o.notifyFailure(ctx, final)
		res = failedResult(final.ID, stepErr)
	} else {
		o.log.Info("Pipeline run completed",
			logger.String("run_id", final.ID),
			logger.Int64("duration_ms", final.DurationMs),
			logger.Any("summary", summary))
		res = ExecuteResult{Success: true, RunID: final.ID}
	}

	o.listenersMu.Lock()
	listeners := append([]func(ExecuteResult){}, o.listeners...)
	o.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}
	return res
}

func (o *Orchestrator) notifyFailure(ctx context.Context, run models.PipelineRun) {
	if o.notifier == nil {
		return
	}
	body := fmt.Sprintf("Run %s (%s by %s) failed at step %s after %d of %d steps.\nError: %s",
		run.ID, run.TriggerType, run.TriggeredBy, run.CurrentStepName,
		run.CompletedSteps, run.TotalSteps, run.ErrorMessage)
	if !o.notifier.Notify(ctx, "Pipeline run failed", body) {
		o.log.Warn("Failure notification not delivered", logger.String("run_id", run.ID))
	}
}

func (o *Orchestrator) publishStatus(ctx context.Context) {
	if o.cache == nil {
		return
	}
	o.mu.RLock()
	status := o.statusLocked()
	o.mu.RUnlock()
	o.mirror.Write(ctx, "cache_status", func(ctx context.Context) error {
		return o.cache.Set(ctx, StatusCacheKey, status, statusCacheTTL)
	})
}
