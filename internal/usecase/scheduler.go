package usecase

import (
	"context"
	"sync"
	"time"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/pkg/cache"
	"FinPilot/pkg/logger"
	"FinPilot/pkg/util"
)

const scheduleLockTTL = 25 * time.Hour

// PipelineExecutor is the part of the orchestrator the scheduler drives.
type PipelineExecutor interface {
	Execute(ctx context.Context, trigger models.TriggerType, triggeredBy string) ExecuteResult
	Start(ctx context.Context, trigger models.TriggerType, triggeredBy string) (string, <-chan ExecuteResult, error)
}

// Scheduler fires one scheduled run per UTC day at a fixed clock time.
type Scheduler struct {
	exec   PipelineExecutor
	hour   int
	minute int
	locker cache.Service
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	timer   *time.Timer
	next    time.Time
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler for hour:minute UTC. locker provides the
// per-day dedup lock; nil disables it.
func NewScheduler(exec PipelineExecutor, hour, minute int, locker cache.Service, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{exec: exec, hour: hour, minute: minute, locker: locker, log: log, now: time.Now}
}

// NextRun returns today's occurrence if it is still ahead of now, otherwise
// tomorrow's.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	at := util.AtClockUTC(now, s.hour, s.minute)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Start arms the timer. The scheduler stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.stopped = false
	s.mu.Unlock()

	s.Rearm()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.Stop()
	}()
}

// Rearm recomputes the next occurrence and resets the timer. It is called
// after every run, scheduled or not.
func (s *Scheduler) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	now := s.now()
	s.next = s.NextRun(now)
	s.timer = time.AfterFunc(s.next.Sub(now), s.fire)
	s.log.Info("Next scheduled pipeline run", logger.Time("at", s.next))
}

// Next reports the armed time, zero when not armed.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return time.Time{}
	}
	return s.next
}

// Stop disarms the timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = time.Time{}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || ctx == nil {
		return
	}
	defer s.Rearm()
	s.RunScheduled(ctx)
}

// RunScheduled takes today's lock and executes a scheduled run. It returns
// false when the day was already claimed.
func (s *Scheduler) RunScheduled(ctx context.Context) bool {
	day := util.DateKey(s.now())
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, cache.Key("schedule", day), scheduleLockTTL)
		if err != nil {
			s.log.Warn("Schedule lock unavailable, running without it", logger.String("day", day), logger.Error(err))
		} else if !ok {
			s.log.Info("Scheduled run already claimed for today", logger.String("day", day))
			return false
		}
	}

	res := s.exec.Execute(ctx, models.TriggerScheduled, "scheduler")
	if !res.Success {
		s.log.Error("Scheduled pipeline run failed", logger.String("run_id", res.RunID), logger.String("error", res.Error))
	}
	return true
}

// CatchUp starts a startup run when today's scheduled time has passed and no
// run has started since then.
func (s *Scheduler) CatchUp(ctx context.Context, store domrepo.RunStore) (string, bool) {
	now := s.now()
	scheduled := util.AtClockUTC(now, s.hour, s.minute)
	if now.Before(scheduled) {
		return "", false
	}
	runs, err := store.ListPipelineRuns(ctx, 1)
	if err != nil {
		s.log.Warn("Cannot check last run for startup catch-up", logger.Error(err))
		return "", false
	}
	if len(runs) > 0 && !runs[0].StartedAt.Before(scheduled) {
		return "", false
	}

	id, _, err := s.exec.Start(ctx, models.TriggerStartup, "startup")
	if err != nil {
		s.log.Warn("Startup run not started", logger.Error(err))
		return "", false
	}
	s.log.Info("Startup catch-up run started", logger.String("run_id", id))
	return id, true
}
