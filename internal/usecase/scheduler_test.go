package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPilot/internal/domain/models"
	"FinPilot/pkg/cache"
	"FinPilot/pkg/logger"
)

type fakeExecutor struct {
	mu       sync.Mutex
	executed []models.TriggerType
	started  []models.TriggerType
	startErr error
}

func (f *fakeExecutor) Execute(_ context.Context, trigger models.TriggerType, _ string) ExecuteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, trigger)
	return ExecuteResult{Success: true, RunID: "run"}
}

func (f *fakeExecutor) Start(_ context.Context, trigger models.TriggerType, _ string) (string, <-chan ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", nil, f.startErr
	}
	f.started = append(f.started, trigger)
	done := make(chan ExecuteResult, 1)
	done <- ExecuteResult{Success: true, RunID: "run"}
	close(done)
	return "run", done, nil
}

func TestNextRun(t *testing.T) {
	s := NewScheduler(&fakeExecutor{}, 6, 30, nil, logger.Nop())

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's slot", time.Date(2025, 3, 14, 5, 0, 0, 0, time.UTC), time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)},
		{"exactly at slot", time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC), time.Date(2025, 3, 15, 6, 30, 0, 0, time.UTC)},
		{"after slot", time.Date(2025, 3, 14, 22, 0, 0, 0, time.UTC), time.Date(2025, 3, 15, 6, 30, 0, 0, time.UTC)},
		{"month end", time.Date(2025, 1, 31, 7, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 6, 30, 0, 0, time.UTC)},
		{"non-utc input", time.Date(2025, 3, 14, 3, 0, 0, 0, time.FixedZone("UTC+5", 5*3600)), time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %s", s.NextRun(tt.now))
		})
	}
}

func TestRunScheduledOncePerDay(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	exec := &fakeExecutor{}
	s := NewScheduler(exec, 6, 30, mc, logger.Nop())
	s.now = func() time.Time { return time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC) }

	assert.True(t, s.RunScheduled(context.Background()))
	assert.False(t, s.RunScheduled(context.Background()))
	assert.Equal(t, []models.TriggerType{models.TriggerScheduled}, exec.executed)

	s.now = func() time.Time { return time.Date(2025, 3, 15, 6, 30, 0, 0, time.UTC) }
	assert.True(t, s.RunScheduled(context.Background()))
	assert.Len(t, exec.executed, 2)
}

func TestSchedulerArmsAndStops(t *testing.T) {
	s := NewScheduler(&fakeExecutor{}, 6, 30, nil, logger.Nop())
	now := time.Date(2025, 3, 14, 7, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.True(t, s.Next().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Equal(t, time.Date(2025, 3, 15, 6, 30, 0, 0, time.UTC), s.Next())

	now = time.Date(2025, 3, 15, 6, 31, 0, 0, time.UTC)
	s.Rearm()
	assert.Equal(t, time.Date(2025, 3, 16, 6, 30, 0, 0, time.UTC), s.Next())

	cancel()
	require.Eventually(t, func() bool { return s.Next().IsZero() }, time.Second, 5*time.Millisecond)
	s.Rearm()
	assert.True(t, s.Next().IsZero())
}

func TestSchedulerRearmsAfterOrchestratorRun(t *testing.T) {
	h := newHarness(t)
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}
	s := NewScheduler(h.orch, 6, 30, nil, logger.Nop())
	s.now = func() time.Time { return h.clock }
	h.orch.OnFinish(func(ExecuteResult) { s.Rearm() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	first := s.Next()

	h.clock = h.clock.Add(24 * time.Hour)
	res := h.orch.Execute(ctx, models.TriggerManual, "alice")
	require.True(t, res.Success)
	assert.Equal(t, first.Add(24*time.Hour), s.Next())
}

func TestCatchUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec := &fakeExecutor{}
	s := NewScheduler(exec, 6, 30, nil, logger.Nop())

	s.now = func() time.Time { return time.Date(2025, 3, 14, 5, 0, 0, 0, time.UTC) }
	_, ok := s.CatchUp(ctx, h.store)
	assert.False(t, ok, "slot not reached yet")

	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	_, err := h.store.InsertPipelineRun(ctx, &models.PipelineRun{
		TriggerType: models.TriggerScheduled,
		Status:      models.RunCompleted,
		StartedAt:   time.Date(2025, 3, 13, 6, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	id, ok := s.CatchUp(ctx, h.store)
	assert.True(t, ok)
	assert.Equal(t, "run", id)
	assert.Equal(t, []models.TriggerType{models.TriggerStartup}, exec.started)

	_, err = h.store.InsertPipelineRun(ctx, &models.PipelineRun{
		TriggerType: models.TriggerScheduled,
		Status:      models.RunCompleted,
		StartedAt:   time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, ok = s.CatchUp(ctx, h.store)
	assert.False(t, ok, "today's run already happened")
}

func TestKafkaTriggerHandler(t *testing.T) {
	exec := &fakeExecutor{}
	h := NewKafkaTriggerHandler("finpilot.pipeline.trigger", exec, nopMetrics(), logger.Nop())
	assert.Equal(t, "finpilot.pipeline.trigger", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"triggered_by":"ops"}`)))
	assert.Equal(t, []models.TriggerType{models.TriggerManual}, exec.started)

	exec.startErr = models.ErrAlreadyRunning
	assert.NoError(t, h.Handle(context.Background(), []byte(`{}`)))

	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
}
