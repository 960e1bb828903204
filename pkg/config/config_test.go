package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
model:
  mode: file
  fallback_path: /tmp/snapshot.json
health:
  sources:
    - name: fred
      url: https://api.stlouisfed.org/health
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, 3, c.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Second, c.Pipeline.BaseDelay)
	assert.Equal(t, 30*time.Second, c.Pipeline.MaxDelay)
	assert.InDelta(t, 0.3, c.Pipeline.Jitter, 1e-9)
	assert.Equal(t, 3, c.Pipeline.MaxSourcesDown)
	assert.Equal(t, "log", c.Notify.Transport)
	require.Len(t, c.Health.Sources, 1)
	assert.Equal(t, 3*time.Second, c.Health.Sources[0].DegradedOver)

	h, m := c.ScheduleClock()
	assert.Equal(t, 6, h)
	assert.Equal(t, 30, m)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown store driver", "store:\n  driver: postgres\nmodel:\n  mode: file\n  fallback_path: x\n"},
		{"http mode without url", "model:\n  mode: http\n"},
		{"webhook without url", "model:\n  mode: file\n  fallback_path: x\nnotify:\n  transport: webhook\n"},
		{"kafka transport without kafka", "model:\n  mode: file\n  fallback_path: x\nnotify:\n  transport: kafka\n"},
		{"bad schedule", "model:\n  mode: file\n  fallback_path: x\npipeline:\n  schedule: \"25:00\"\n"},
		{"source without url", "model:\n  mode: file\n  fallback_path: x\nhealth:\n  sources:\n    - name: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	t.Setenv("STORE_DRIVER", "clickhouse")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("PIPELINE_SCHEDULE", "21:05")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "clickhouse", c.Store.Driver)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	h, m := c.ScheduleClock()
	assert.Equal(t, 21, h)
	assert.Equal(t, 5, m)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 45, m)

	_, _, err = ParseClock("7pm")
	assert.Error(t, err)
}
