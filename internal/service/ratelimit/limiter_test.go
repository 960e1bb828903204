package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefillsPerKey(t *testing.T) {
	l := New(2, time.Minute)
	clock := time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	clock = clock.Add(30 * time.Second)
	assert.False(t, l.Allow("10.0.0.1"))

	clock = clock.Add(30 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	clock = clock.Add(time.Hour)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestIdleFullBucketsAreEvicted(t *testing.T) {
	l := New(2, time.Minute)
	start := time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)
	clock := start
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())

	clock = start.Add(2 * time.Minute)
	assert.True(t, l.Allow("10.0.0.3"))
	assert.Equal(t, 1, l.Len())

	clock = start.Add(3*time.Minute + 30*time.Second)
	assert.True(t, l.Allow("10.0.0.4"))
	assert.True(t, l.Allow("10.0.0.4"))
	assert.Equal(t, 2, l.Len())

	// .3 has refilled, .4 holds half a token and stays throttled.
	clock = start.Add(4 * time.Minute)
	assert.True(t, l.Allow("10.0.0.5"))
	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Allow("10.0.0.4"))
}
