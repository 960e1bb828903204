package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/pkg/logger"
)

const maxRecordedFailures = 100

// WriteOutcome is the result of one non-fatal mirror write.
type WriteOutcome struct {
	Op  string
	Err error
	At  time.Time
}

func (o WriteOutcome) OK() bool { return o.Err == nil }

// MirrorWriter performs writes whose failure must not change control flow:
// run-record updates and the cached status. Failures are logged, counted and
// kept for inspection.
type MirrorWriter struct {
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	failures []WriteOutcome
}

func NewMirrorWriter(metrics domrepo.Metrics, log *logger.Logger) *MirrorWriter {
	return &MirrorWriter{metrics: metrics, log: log, now: time.Now}
}

func (m *MirrorWriter) Write(ctx context.Context, op string, fn func(ctx context.Context) error) (out WriteOutcome) {
	out = WriteOutcome{Op: op, At: m.now()}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
		}
		if out.Err != nil {
			m.record(out)
		}
	}()
	out.Err = fn(ctx)
	return out
}

func (m *MirrorWriter) record(out WriteOutcome) {
	m.metrics.RecordMirrorFailure(out.Op)
	m.log.Warn("Mirror write failed", logger.String("op", out.Op), logger.Error(out.Err))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, out)
	if len(m.failures) > maxRecordedFailures {
		m.failures = m.failures[len(m.failures)-maxRecordedFailures:]
	}
}

// Failures returns the most recent failed writes, oldest first.
func (m *MirrorWriter) Failures() []WriteOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteOutcome(nil), m.failures...)
}
