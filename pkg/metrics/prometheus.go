package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinPilot/internal/domain/models"
	"FinPilot/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal          *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	stepRetries        *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	mirrorFailures     *prometheus.CounterVec
	sourceHealth       *prometheus.GaugeVec
	errorsTotal        *prometheus.CounterVec
	latency            *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_pipeline_runs_total",
				Help: "Finished pipeline runs by trigger and final status",
			},
			[]string{"trigger", "status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finpilot_pipeline_step_duration_seconds",
				Help:    "Duration of pipeline steps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"step", "status"},
		),
		stepRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_pipeline_step_retries_total",
				Help: "Retried step attempts",
			},
			[]string{"step"},
		),
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_alerts_emitted_total",
				Help: "Alert candidates emitted by change detection",
			},
			[]string{"kind", "severity"},
		),
		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_notifications_total",
				Help: "Outbound notifications by delivery result",
			},
			[]string{"result"},
		),
		mirrorFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_mirror_write_failures_total",
				Help: "Failed best-effort writes of run state",
			},
			[]string{"op"},
		),
		sourceHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finpilot_source_health",
				Help: "Last probed source health (2 healthy, 1 degraded, 0 down)",
			},
			[]string{"source"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpilot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finpilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordRun(trigger, status string) {
	r.runsTotal.WithLabelValues(trigger, status).Inc()
}

func (r *Recorder) RecordStep(step, status string, seconds float64) {
	r.stepDuration.WithLabelValues(step, status).Observe(seconds)
}

func (r *Recorder) RecordStepRetry(step string) {
	r.stepRetries.WithLabelValues(step).Inc()
}

func (r *Recorder) RecordAlert(kind, severity string) {
	r.alertsTotal.WithLabelValues(kind, severity).Inc()
}

// RecordNotification counts a delivery attempt; result is "sent" or "failed".
func (r *Recorder) RecordNotification(result string) {
	r.notificationsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordMirrorFailure(op string) {
	r.mirrorFailures.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordSourceHealth(source string, status models.HealthStatus) {
	v := 0.0
	switch status {
	case models.HealthHealthy:
		v = 2
	case models.HealthDegraded:
		v = 1
	}
	r.sourceHealth.WithLabelValues(source).Set(v)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

var _ repository.Metrics = Nop{}

func (Nop) RecordRun(string, string)                       {}
func (Nop) RecordStep(string, string, float64)             {}
func (Nop) RecordStepRetry(string)                         {}
func (Nop) RecordAlert(string, string)                     {}
func (Nop) RecordNotification(string)                      {}
func (Nop) RecordMirrorFailure(string)                     {}
func (Nop) RecordSourceHealth(string, models.HealthStatus) {}
func (Nop) RecordError(string)                             {}
func (Nop) RecordLatency(string, float64)                  {}
