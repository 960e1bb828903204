package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FinPilot/internal/domain/models"
	"FinPilot/internal/repository"
	"FinPilot/internal/services/notify"
	"FinPilot/pkg/logger"
	"FinPilot/pkg/metrics"
	pkgsqlite "FinPilot/pkg/sqlite"
)

type fakeProbe struct {
	mu      sync.Mutex
	results []models.SourceHealth
	calls   int
}

func (p *fakeProbe) CheckAll(context.Context) []models.SourceHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return append([]models.SourceHealth(nil), p.results...)
}

func sources(total, down int) []models.SourceHealth {
	out := make([]models.SourceHealth, total)
	for i := range out {
		out[i] = models.SourceHealth{Name: string(rune('a' + i)), Status: models.HealthHealthy}
		if i < down {
			out[i].Status = models.HealthDown
		}
	}
	return out
}

// scriptedRunner returns the queued results in order, then repeats the last.
type scriptedRunner struct {
	mu    sync.Mutex
	snaps []*models.Snapshot
	errs  []error
	calls int
	block chan struct{}
}

func (r *scriptedRunner) Name() string { return "test" }

func (r *scriptedRunner) Run(ctx context.Context) (*models.Snapshot, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if len(r.snaps) == 0 {
		return nil, errors.New("no snapshot scripted")
	}
	if i >= len(r.snaps) {
		i = len(r.snaps) - 1
	}
	s := *r.snaps[i]
	return &s, nil
}

type sentNotification struct {
	title string
	body  string
}

type recordingTransport struct {
	mu   sync.Mutex
	msgs []sentNotification
}

func (t *recordingTransport) Notify(_ context.Context, title, body string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, sentNotification{title: title, body: body})
	return true
}

func (t *recordingTransport) titles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.title
	}
	return out
}

type harness struct {
	store     *repository.SQLStore
	probe     *fakeProbe
	runner    *scriptedRunner
	transport *recordingTransport
	orch      *Orchestrator
	clock     time.Time
}

func snapshot(regime string, score float64, weights map[string]float64) *models.Snapshot {
	return &models.Snapshot{
		RunDate: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Metrics: models.SnapshotMetrics{
			Regime:         models.RegimeState{Label: regime},
			CompositeScore: score,
			Direction:      models.DirectionNeutral,
			Weights:        weights,
		},
	}
}

func newHarness(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()
	client, err := pkgsqlite.NewClient(pkgsqlite.WithPath(filepath.Join(t.TempDir(), "pipeline.db")))
	require.NoError(t, err)
	store, err := repository.NewSQLiteStore(context.Background(), client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		probe:     &fakeProbe{results: sources(7, 0)},
		runner:    &scriptedRunner{},
		transport: &recordingTransport{},
		clock:     time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC),
	}

	log := logger.Nop()
	rec := metrics.Nop{}
	invoker := NewModelRunUseCase(h.runner, store, rec, log)
	dispatcher := notify.NewDispatcher(h.transport, rec, log)
	steps := NewPipelineSteps(StepConfig{MaxSourcesDown: 3, BacktestMaxAge: 7 * 24 * time.Hour}, h.probe, invoker, store, dispatcher, log)

	retry := NewRetryController(DefaultRetryPolicy(),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithJitterSource(func() float64 { return 0.5 }))

	all := append([]OrchestratorOption{
		WithRetryController(retry),
		WithClock(func() time.Time { return h.clock }),
	}, opts...)
	h.orch = NewOrchestrator(steps, store, invoker, dispatcher, all...)
	return h
}

// seedPrevious stores a snapshot that is older than anything the run inserts.
func (h *harness) seedPrevious(t *testing.T, s *models.Snapshot) {
	t.Helper()
	s.CreatedAt = h.clock.Add(-24 * time.Hour)
	_, err := h.store.InsertSnapshot(context.Background(), s)
	require.NoError(t, err)
}

func nopMetrics() metrics.Nop { return metrics.Nop{} }
