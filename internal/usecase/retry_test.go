package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	// u = 0.5 means zero jitter.
	assert.Equal(t, 2*time.Second, p.Delay(1, 0.5))
	assert.Equal(t, 4*time.Second, p.Delay(2, 0.5))
	assert.Equal(t, 8*time.Second, p.Delay(3, 0.5))
	assert.Equal(t, 30*time.Second, p.Delay(5, 0.5))

	for k := 1; k <= 6; k++ {
		lower := float64(p.BaseDelay) * float64(int(1)<<(k-1)) * (1 - p.Jitter)
		if lower > float64(p.MaxDelay)*(1-p.Jitter) {
			lower = float64(p.MaxDelay) * (1 - p.Jitter)
		}
		upper := float64(p.MaxDelay) * (1 + p.Jitter)
		for _, u := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
			d := float64(p.Delay(k, u))
			assert.GreaterOrEqual(t, d, lower-1, "k=%d u=%v", k, u)
			assert.LessOrEqual(t, d, upper, "k=%d u=%v", k, u)
		}
	}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestRetry(rec *sleepRecorder) *RetryController {
	return NewRetryController(DefaultRetryPolicy(),
		WithSleeper(rec.sleep),
		WithJitterSource(func() float64 { return 0.5 }))
}

func TestRetryControllerSucceedsAfterRetries(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestRetry(rec)

	calls := 0
	var observed []int
	msg, err := c.Do(context.Background(), true, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("blip %d", calls)
		}
		return "ok", nil
	}, func(retry int, _ error, _ time.Duration) {
		observed = append(observed, retry)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, observed)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestRetryControllerExhaustsBudget(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestRetry(rec)

	calls := 0
	upstream := errors.New("upstream 503")
	_, err := c.Do(context.Background(), true, func(context.Context) (string, error) {
		calls++
		return "", upstream
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, "Failed after 4 attempts. Last error: upstream 503", err.Error())
	assert.ErrorIs(t, err, upstream)
	assert.Len(t, rec.delays, 3)
}

func TestRetryControllerNonRetryableRunsOnce(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestRetry(rec)

	calls := 0
	boom := errors.New("transport down")
	_, err := c.Do(context.Background(), false, func(context.Context) (string, error) {
		calls++
		return "", boom
	}, func(int, error, time.Duration) { t.Fatal("non-retryable step must not be retried") })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetryControllerStopsWhenContextDone(t *testing.T) {
	c := NewRetryController(DefaultRetryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flaky := errors.New("flaky")
	_, err := c.Do(ctx, true, func(context.Context) (string, error) {
		return "", flaky
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, flaky)
	assert.Contains(t, err.Error(), "Failed after 1 attempts")
}
