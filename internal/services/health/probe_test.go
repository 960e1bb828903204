package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPilot/internal/domain/models"
	"FinPilot/pkg/logger"
	"FinPilot/pkg/metrics"
)

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCheckerClassifiesStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		want models.HealthStatus
	}{
		{"ok", http.StatusOK, models.HealthHealthy},
		{"client error", http.StatusTooManyRequests, models.HealthDegraded},
		{"server error", http.StatusBadGateway, models.HealthDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := statusServer(t, tt.code)
			res := NewHTTPChecker(nil, srv.URL, 0).Check(context.Background())
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestHTTPCheckerTransportErrorIsDown(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	res := NewHTTPChecker(nil, url, 0).Check(context.Background())
	assert.Equal(t, models.HealthDown, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestHTTPCheckerSlowIsDegraded(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	c := NewHTTPChecker(nil, srv.URL, time.Second)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	c.now = func() time.Time {
		calls++
		return clock.Add(time.Duration(calls-1) * 3 * time.Second)
	}

	res := c.Check(context.Background())
	assert.Equal(t, models.HealthDegraded, res.Status)
	assert.Equal(t, int64(3000), res.LatencyMs)
}

func TestProbeKeepsRegistryOrder(t *testing.T) {
	up := CheckerFunc(func(context.Context) error { return nil })
	down := CheckerFunc(func(context.Context) error { return errors.New("refused") })
	slow := CheckerFunc(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	p := NewProbe([]Source{
		{Name: "fred", Checker: slow},
		{Name: "ecb", Checker: down},
		{Name: "yahoo", Checker: up},
	}, metrics.Nop{}, logger.Nop())

	results := p.CheckAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, []string{"fred", "ecb", "yahoo"}, []string{results[0].Name, results[1].Name, results[2].Name})
	assert.Equal(t, models.HealthDown, results[1].Status)
	assert.Equal(t, "refused", results[1].Error)
	assert.Equal(t, []string{"fred", "ecb", "yahoo"}, p.Sources())

	healthy, degraded, downCount := Tally(results)
	assert.Equal(t, 2, healthy)
	assert.Equal(t, 0, degraded)
	assert.Equal(t, 1, downCount)
}

type panicChecker struct{}

func (panicChecker) Check(context.Context) models.SourceHealth { panic("boom") }

func TestProbeRecoversPanickingChecker(t *testing.T) {
	p := NewProbe([]Source{{Name: "bad", Checker: panicChecker{}}}, nil, nil)
	results := p.CheckAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, models.HealthDown, results[0].Status)
	assert.Equal(t, "bad", results[0].Name)
}
