package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	logs, ok := payload.([]AggregatedLogEntry)
	if !ok {
		return errors.New("unexpected payload")
	}
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, logs)
	return nil
}

func (p *capturePublisher) snapshot() ([]string, [][]AggregatedLogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorAggregatesDuplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "finpilot.logs", Publisher: pub})

	fields := map[string]interface{}{"step": "model_run"}
	c.AddLog("error", "step failed", fields, "usecase/orchestrator.go:10")
	c.AddLog("error", "step failed", fields, "usecase/orchestrator.go:10")
	c.AddLog("error", "store write failed", nil, "usecase/mirror.go:5")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	assert.Equal(t, 0, c.Pending())

	topics, batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"finpilot.logs"}, topics)

	counts := map[string]int{}
	for _, e := range batches[0] {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, map[string]int{"step failed": 2, "store write failed": 1}, counts)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "t", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x")
	c.AddLog("error", "b", nil, "x")

	assert.Eventually(t, func() bool {
		_, batches := pub.snapshot()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "t", Publisher: pub})

	child := l.With(String("component", "scheduler"))
	child.Error("lock failed", String("key", "schedule:2025-03-14"))
	l.Info("ignored")
	assert.Equal(t, 1, l.collector.Pending())

	l.RemoveCollector()
	_, batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "lock failed", batches[0][0].Message)
	assert.Equal(t, "schedule:2025-03-14", batches[0][0].Fields["key"])
}
