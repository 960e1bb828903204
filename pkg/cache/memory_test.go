package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...MemoryOption) (*MemoryCache, *time.Time) {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	clock := time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return clock }
	return mc, &clock
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache(t)

	type status struct {
		Running bool   `json:"running"`
		Step    string `json:"step"`
	}
	require.NoError(t, mc.Set(ctx, "pipeline:status", status{Running: true, Step: "alerts"}, time.Minute))

	var got status
	require.NoError(t, mc.Get(ctx, "pipeline:status", &got))
	assert.Equal(t, status{Running: true, Step: "alerts"}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, "pipeline:status", &raw))
	assert.JSONEq(t, `{"running":true,"step":"alerts"}`, raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t)

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	*clock = clock.Add(2 * time.Second)
	var v string
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t)

	ok, err := mc.TryLock(ctx, "schedule:2025-01-02", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "schedule:2025-01-02", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	*clock = clock.Add(2 * time.Hour)
	ok, err = mc.TryLock(ctx, "schedule:2025-01-02", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "schedule:2025-01-02"))
	ok, _ = mc.Exists(ctx, "schedule:2025-01-02")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	*clock = clock.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	*clock = clock.Add(time.Second)
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	*clock = clock.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, "1", v)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "schedule:2025-01-02", Key("schedule", "2025-01-02"))
	assert.Equal(t, "finpilot:pipeline:status", Key("finpilot", "pipeline:status"))
	assert.Equal(t, "runs", Key("runs"))
}
