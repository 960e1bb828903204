package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Each key starts full and regains one token
// every refill interval. Buckets that have refilled completely are dropped,
// so the map only holds clients that are currently being throttled.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*bucket
	capacity float64
	perSec   float64
	now      func() time.Time

	sweepEvery time.Duration
	lastSweep  time.Time
}

func New(capacity int, every time.Duration) *Limiter {
	perSec := 0.0
	if every > 0 {
		perSec = 1 / every.Seconds()
	}
	return &Limiter{
		m:          make(map[string]*bucket),
		capacity:   float64(capacity),
		perSec:     perSec,
		now:        time.Now,
		sweepEvery: time.Duration(capacity) * every,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.perSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// sweep drops full buckets, at most once per full refill interval. A bucket
// that never refills is kept.
func (l *Limiter) sweep(now time.Time) {
	if l.perSec == 0 || now.Sub(l.lastSweep) < l.sweepEvery {
		return
	}
	l.lastSweep = now
	for key, b := range l.m {
		if b.tokens+now.Sub(b.last).Seconds()*l.perSec >= l.capacity {
			delete(l.m, key)
		}
	}
}
