package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy configures per-step retries with capped exponential backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the maximum fractional perturbation of each delay (0-1).
	Jitter float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.3,
	}
}

// Delay returns the wait before retry k (1-indexed). u is a uniform sample in
// [0, 1) that picks the jitter within [-Jitter, +Jitter].
func (p RetryPolicy) Delay(k int, u float64) time.Duration {
	if k < 1 {
		k = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(k-1))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		backoff *= 1 + (u*2-1)*p.Jitter
	}
	return time.Duration(backoff)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryFunc is one attempt of a step. It returns the success message.
type RetryFunc func(ctx context.Context) (string, error)

// RetryObserver is told about every failed attempt that will be retried.
type RetryObserver func(retry int, err error, delay time.Duration)

// RetryController runs attempts under a RetryPolicy.
type RetryController struct {
	policy  RetryPolicy
	sleep   Sleeper
	uniform func() float64
}

type RetryOption func(*RetryController)

// WithSleeper replaces the real wait, e.g. with a no-op in tests.
func WithSleeper(s Sleeper) RetryOption {
	return func(c *RetryController) { c.sleep = s }
}

// WithJitterSource supplies the uniform [0, 1) samples used for jitter.
func WithJitterSource(f func() float64) RetryOption {
	return func(c *RetryController) { c.uniform = f }
}

func NewRetryController(policy RetryPolicy, opts ...RetryOption) *RetryController {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	c := &RetryController{
		policy: policy,
		sleep:  contextSleep,
		uniform: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rnd.Float64()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the active policy.
func (c *RetryController) Policy() RetryPolicy { return c.policy }

// Do runs fn until it succeeds or the retry budget is spent. A non-retryable
// call gets exactly one attempt and its error is returned unchanged. When the
// budget is exhausted the error reports the attempt count and the last error.
func (c *RetryController) Do(ctx context.Context, retryable bool, fn RetryFunc, observe RetryObserver) (string, error) {
	if !retryable {
		return fn(ctx)
	}

	attempts := c.policy.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		msg, err := fn(ctx)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := c.policy.Delay(attempt, c.uniform())
		if observe != nil {
			observe(attempt, err, delay)
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			return "", fmt.Errorf("Failed after %d attempts. Last error: %w (%w)", attempt, lastErr, serr)
		}
	}
	return "", fmt.Errorf("Failed after %d attempts. Last error: %w", attempts, lastErr)
}
