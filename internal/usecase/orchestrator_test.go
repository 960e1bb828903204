package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPilot/internal/domain/models"
	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/pkg/cache"
)

var equalWeights = map[string]float64{"SPY": 0.5, "TLT": 0.5}

func TestExecuteEndToEndRegimeChange(t *testing.T) {
	h := newHarness(t)
	h.probe.results = sources(7, 2)
	h.seedPrevious(t, snapshot("carry", 1.0, equalWeights))
	h.runner.snaps = []*models.Snapshot{snapshot("domestic_stress", 1.0, equalWeights)}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")

	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.RunID)

	run, err := h.store.GetPipelineRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 6, run.CompletedSteps)
	assert.Equal(t, 6, run.TotalSteps)
	assert.Equal(t, "alice", run.TriggeredBy)
	for _, s := range run.Steps {
		assert.Equal(t, models.StepCompleted, s.Status, s.Name)
	}
	assert.Equal(t, "5/7 sources healthy, 0 degraded, 2 down", run.Steps[0].Message)
	assert.EqualValues(t, 1, run.Summary["alertCount"])
	assert.Equal(t, "domestic_stress", run.Summary["regime"])
	assert.EqualValues(t, 2, run.Summary["notificationsSent"])

	titles := h.transport.titles()
	require.Len(t, titles, 2)
	assert.Equal(t, "[CRITICAL] Regime change: carry → domestic_stress", titles[0])
	assert.Equal(t, "Daily pipeline summary", titles[1])

	assert.Equal(t, models.IdleStatus(), h.orch.Status())
	assert.False(t, h.orch.IsRunning())
}

func TestExecuteFirstRunHasNoAlerts(t *testing.T) {
	h := newHarness(t)
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}

	res := h.orch.Execute(context.Background(), models.TriggerScheduled, "scheduler")
	require.True(t, res.Success)

	run, err := h.store.GetPipelineRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "No alerts generated", run.Steps[2].Message)
	assert.Equal(t, "No active portfolio configured", run.Steps[3].Message)
	assert.Equal(t, []string{"Daily pipeline summary"}, h.transport.titles())

	entries, err := h.store.ListChangelog(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeInitial, entries[0].Changes[0].Type)
}

func TestExecuteAbortsWhenTooManySourcesDown(t *testing.T) {
	h := newHarness(t)
	h.probe.results = sources(7, 4)

	res := h.orch.Execute(context.Background(), models.TriggerManual, "bob")

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "Failed after 4 attempts. Last error: too many data sources down: 4 of 7 (max 3)")
	assert.Equal(t, 4, h.probe.calls)
	assert.Equal(t, 0, h.runner.calls)

	run, err := h.store.GetPipelineRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, 0, run.CompletedSteps)
	assert.Equal(t, res.Error, run.ErrorMessage)
	assert.Equal(t, models.StepFailed, run.Steps[0].Status)
	assert.Equal(t, 3, run.Steps[0].RetryCount)
	assert.Len(t, run.Steps[0].RetryErrors, 3)
	for _, s := range run.Steps[1:] {
		assert.Equal(t, models.StepPending, s.Status, s.Name)
	}

	assert.Equal(t, []string{"Pipeline run failed"}, h.transport.titles())
}

func TestModelRunSucceedsAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.runner.errs = []error{errors.New("model timeout"), errors.New("model timeout")}
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	require.True(t, res.Success, res.Error)

	run, err := h.store.GetPipelineRun(context.Background(), res.RunID)
	require.NoError(t, err)
	step := run.Steps[1]
	assert.Equal(t, StepModelRun, step.Name)
	assert.Equal(t, 2, step.RetryCount)
	assert.Equal(t, []string{"model timeout", "model timeout"}, step.RetryErrors)
	assert.Len(t, step.RetriedAt, 2)
	assert.Contains(t, step.Message, "(succeeded after 2 retries)")
}

func TestNonRetryableStepFailsOnFirstError(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.orch.steps = func() []StepDef {
		return []StepDef{
			{Name: "first", Label: "First", Retryable: true, Run: func(context.Context, *RunContext) (string, error) {
				return "done", nil
			}},
			{Name: "final", Label: "Final", Retryable: false, Run: func(context.Context, *RunContext) (string, error) {
				calls++
				return "", errors.New("send failed")
			}},
		}
	}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	require.False(t, res.Success)
	assert.Equal(t, "send failed", res.Error)
	assert.Equal(t, 1, calls)

	run, err := h.store.GetPipelineRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CompletedSteps)
	assert.Equal(t, models.StepFailed, run.Steps[1].Status)
	assert.Equal(t, 0, run.Steps[1].RetryCount)
}

func TestStepPanicBecomesFailure(t *testing.T) {
	h := newHarness(t)
	h.orch.steps = func() []StepDef {
		return []StepDef{{Name: "boom", Label: "Boom", Run: func(context.Context, *RunContext) (string, error) {
			panic("nil map")
		}}}
	}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "step boom panicked: nil map")
}

func TestConcurrentTriggerIsRejected(t *testing.T) {
	h := newHarness(t)
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}
	h.runner.block = make(chan struct{})

	runID, done, err := h.orch.Start(context.Background(), models.TriggerManual, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return h.orch.Status().CurrentStepName == StepModelRun
	}, 2*time.Second, 5*time.Millisecond)

	res := h.orch.Execute(context.Background(), models.TriggerManual, "bob")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrAlreadyRunning)

	_, _, err = h.orch.Start(context.Background(), models.TriggerManual, "bob")
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)

	_, err = h.orch.RunModel(context.Background())
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)

	status := h.orch.Status()
	assert.True(t, status.IsRunning)
	assert.Equal(t, runID, status.RunID)
	assert.Equal(t, 17, status.ProgressPercent)
	assert.Equal(t, models.StepCompleted, status.Steps[0].Status)
	assert.Equal(t, models.StepRunning, status.Steps[1].Status)

	close(h.runner.block)
	select {
	case final := <-done:
		assert.True(t, final.Success, final.Error)
		assert.Equal(t, runID, final.RunID)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.False(t, h.orch.IsRunning())
}

func TestStatusIdleIsStable(t *testing.T) {
	h := newHarness(t)
	first := h.orch.Status()
	second := h.orch.Status()
	assert.Equal(t, first, second)
	assert.False(t, first.IsRunning)
	assert.Empty(t, first.Steps)
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started := h.clock.Add(-time.Hour)
	stuck := &models.PipelineRun{
		TriggerType:     models.TriggerScheduled,
		TriggeredBy:     "scheduler",
		Status:          models.RunRunning,
		CurrentStepName: StepModelRun,
		TotalSteps:      2,
		CompletedSteps:  1,
		Steps: []models.Step{
			models.NewStep(StepDataIngest, "Data ingestion").Begin(started).Complete("ok", started),
			models.NewStep(StepModelRun, "Model computation").Begin(started),
		},
		StartedAt: started,
	}
	stuckID, err := h.store.InsertPipelineRun(ctx, stuck)
	require.NoError(t, err)
	_, err = h.store.InsertPipelineRun(ctx, &models.PipelineRun{TriggerType: models.TriggerManual, Status: models.RunCompleted, StartedAt: started})
	require.NoError(t, err)

	n, err := h.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := h.store.GetPipelineRun(ctx, stuckID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, models.InterruptedMessage, run.ErrorMessage)
	assert.Equal(t, models.StepFailed, run.Steps[1].Status)
	assert.Equal(t, models.InterruptedMessage, run.Steps[1].Error)
	assert.Equal(t, models.StepCompleted, run.Steps[0].Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, time.Hour.Milliseconds(), run.DurationMs)

	n, err = h.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingRunStore struct {
	domrepo.Store
}

func (failingRunStore) InsertPipelineRun(context.Context, *models.PipelineRun) (string, error) {
	return "", errors.New("disk full")
}

func (failingRunStore) UpdatePipelineRun(context.Context, string, models.PipelineRunUpdate) error {
	return errors.New("disk full")
}

func TestMirrorFailuresDoNotFailRun(t *testing.T) {
	h := newHarness(t)
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}
	h.orch.store = failingRunStore{Store: h.store}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	require.True(t, res.Success, res.Error)

	failures := h.orch.Mirror().Failures()
	require.NotEmpty(t, failures)
	assert.Equal(t, "insert_run", failures[0].Op)
	assert.Equal(t, "finalize_run", failures[len(failures)-1].Op)
	for _, f := range failures {
		assert.False(t, f.OK())
	}
}

func TestStatusIsMirroredToCache(t *testing.T) {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	h := newHarness(t, WithStatusCache(mc))
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}

	var seenRunning bool
	h.orch.OnFinish(func(ExecuteResult) {})
	h.orch.steps = func() []StepDef {
		return []StepDef{{Name: "probe", Label: "Probe", Run: func(ctx context.Context, _ *RunContext) (string, error) {
			var st models.StatusSnapshot
			if err := mc.Get(ctx, StatusCacheKey, &st); err == nil {
				seenRunning = st.IsRunning && st.CurrentStepName == "probe"
			}
			return "ok", nil
		}}}
	}

	res := h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	require.True(t, res.Success)
	assert.True(t, seenRunning)

	var final models.StatusSnapshot
	require.NoError(t, mc.Get(context.Background(), StatusCacheKey, &final))
	assert.False(t, final.IsRunning)
}

func TestOnFinishListenersSeeEveryRun(t *testing.T) {
	h := newHarness(t)
	h.probe.results = sources(7, 5)
	var results []ExecuteResult
	h.orch.OnFinish(func(r ExecuteResult) { results = append(results, r) })

	h.orch.Execute(context.Background(), models.TriggerManual, "alice")
	h.runner.snaps = []*models.Snapshot{snapshot("carry", 1.0, equalWeights)}
	h.probe.results = sources(7, 0)
	h.orch.Execute(context.Background(), models.TriggerManual, "alice")

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}
