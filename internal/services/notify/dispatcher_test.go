package notify

import (
	"context"
	"encoding/json"
	"io"
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

type sent struct {
	title string
	body  string
}

type recordingTransport struct {
	msgs   []sent
	failOn string
	panics bool
}

func (r *recordingTransport) Notify(_ context.Context, title, body string) bool {
	if r.panics {
		panic("transport exploded")
	}
	r.msgs = append(r.msgs, sent{title: title, body: body})
	return title != r.failOn
}

func candidate(kind models.AlertKind, sev models.Severity, title string) models.AlertCandidate {
	return models.AlertCandidate{Kind: kind, Severity: sev, Title: title, Message: title + " message"}
}

func TestComposeGroupingRules(t *testing.T) {
	cands := []models.AlertCandidate{
		candidate(models.AlertRegimeChange, models.SeverityCritical, "Regime change"),
		candidate(models.AlertRebalancingDeviation, models.SeverityInfo, "Rebalancing"),
		candidate(models.AlertShapShift, models.SeverityWarning, "Shap warning"),
		candidate(models.AlertShapShift, models.SeverityInfo, "Shap info"),
		candidate(models.AlertScoreChange, models.SeverityWarning, "Score"),
		candidate(models.AlertDrawdownWarning, models.SeverityCritical, "Drawdown"),
		{Kind: models.AlertFeatureStability, Severity: models.SeverityCritical, Instrument: "SPY", Feature: "vix", PreviousValue: "robust", CurrentValue: "unstable"},
		{Kind: models.AlertFeatureStability, Severity: models.SeverityCritical, Instrument: "TLT", Feature: "curve", PreviousValue: "robust", CurrentValue: "unstable"},
		{Kind: models.AlertFeatureStability, Severity: models.SeverityWarning, Instrument: "SPY", Feature: "mom", PreviousValue: "robust", CurrentValue: "moderate"},
		{Kind: models.AlertFeatureStability, Severity: models.SeverityInfo, Instrument: "SPY", Feature: "carry", PreviousValue: "unstable", CurrentValue: "robust"},
	}

	msgs := Compose(cands)
	require.Len(t, msgs, 5)
	assert.Equal(t, "[CRITICAL] Regime change", msgs[0].Title)
	assert.Contains(t, msgs[0].Body, callToAction)
	assert.Equal(t, "[INFO] Rebalancing", msgs[1].Title)
	assert.NotContains(t, msgs[1].Body, callToAction)
	assert.Equal(t, "[WARNING] Shap warning", msgs[2].Title)
	assert.Equal(t, "[CRITICAL] Feature stability lost (2)", msgs[3].Title)
	assert.Contains(t, msgs[3].Body, "SPY/vix: robust -> unstable")
	assert.Contains(t, msgs[3].Body, "TLT/curve: robust -> unstable")
	assert.Equal(t, "[WARNING] Feature stability weakened (1)", msgs[4].Title)
}

func TestDispatchAlwaysAppendsSummaryLast(t *testing.T) {
	tr := &recordingTransport{}
	d := NewDispatcher(tr, nil, logger.Nop())

	report := d.Dispatch(context.Background(), nil, RunSummary{
		RunID:          "run-1",
		Regime:         "carry",
		CompositeScore: 1.25,
		Direction:      models.DirectionBullish,
		AlertCount:     4,
		SourcesHealthy: 5,
		SourcesDown:    2,
	})

	assert.Equal(t, DispatchReport{Sent: 1}, report)
	require.Len(t, tr.msgs, 1)
	assert.Equal(t, "Daily pipeline summary", tr.msgs[0].title)
	assert.Contains(t, tr.msgs[0].body, "Alerts: 4")
	assert.Contains(t, tr.msgs[0].body, "Composite score: 1.25 (bullish)")
	assert.Contains(t, tr.msgs[0].body, "5 healthy, 2 down")
}

type notificationCounter struct {
	metrics.Nop
	results map[string]int
}

func (n *notificationCounter) RecordNotification(result string) {
	if n.results == nil {
		n.results = map[string]int{}
	}
	n.results[result]++
}

func TestDispatchCountsFailuresAndRecordsMetrics(t *testing.T) {
	rec := &notificationCounter{}
	tr := &recordingTransport{failOn: "[WARNING] Regime change"}
	d := NewDispatcher(tr, rec, logger.Nop())

	report := d.Dispatch(context.Background(), []models.AlertCandidate{
		candidate(models.AlertRegimeChange, models.SeverityWarning, "Regime change"),
	}, RunSummary{})

	assert.Equal(t, DispatchReport{Sent: 1, Failed: 1}, report)
	require.Len(t, tr.msgs, 2)
	assert.Equal(t, "Daily pipeline summary", tr.msgs[1].title)
	assert.Equal(t, map[string]int{"sent": 1, "failed": 1}, rec.results)
}

func TestDispatchRecoversFromTransportPanic(t *testing.T) {
	d := NewDispatcher(&recordingTransport{panics: true}, nil, logger.Nop())
	var report DispatchReport
	assert.NotPanics(t, func() {
		report = d.Dispatch(context.Background(), nil, RunSummary{})
	})
	assert.Equal(t, DispatchReport{Failed: 1}, report)
}

func TestDispatchWithoutTransport(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	assert.Equal(t, DispatchReport{Failed: 1}, d.Dispatch(context.Background(), nil, RunSummary{}))
}

type capturePublisher struct {
	key     string
	payload interface{}
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, key string, payload interface{}) error {
	c.key, c.payload = key, payload
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

func TestKafkaTransportPublishesPayload(t *testing.T) {
	pub := &capturePublisher{}
	tr := NewKafkaTransport(pub, logger.Nop())
	at := time.Date(2025, 3, 4, 6, 31, 0, 0, time.UTC)
	tr.now = func() time.Time { return at }

	assert.True(t, tr.Notify(context.Background(), "t", "b"))
	assert.Equal(t, Payload{Title: "t", Body: "b", SentAt: at}, pub.payload)

	pub.err = assert.AnError
	assert.False(t, tr.Notify(context.Background(), "t", "b"))
}

func TestWebhookTransport(t *testing.T) {
	var got Payload
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(nil, srv.URL, logger.Nop())
	assert.True(t, tr.Notify(context.Background(), "Daily pipeline summary", "ok"))
	assert.Equal(t, "Daily pipeline summary", got.Title)
	assert.Equal(t, "ok", got.Body)

	status = http.StatusServiceUnavailable
	assert.False(t, tr.Notify(context.Background(), "x", "y"))
}

func TestLogTransport(t *testing.T) {
	assert.True(t, NewLogTransport(logger.Nop()).Notify(context.Background(), "t", "b"))
}
