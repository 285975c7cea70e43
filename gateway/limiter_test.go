package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterImmediateUnderCapacity(t *testing.T) {
	limiter := NewLimiter(100)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"acquires within capacity should not wait")
}

func TestLimiterConservation(t *testing.T) {
	// After N acquires issued faster than refill allows, elapsed time
	// must be at least (N - capacity) / refillRate.
	const rate = 20.0
	const n = 30

	limiter := NewLimiter(rate)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	elapsed := time.Since(start)

	minElapsed := time.Duration(float64(n-int(rate)) / rate * float64(time.Second))
	// Small tolerance for timer rounding.
	assert.GreaterOrEqual(t, elapsed, minElapsed-20*time.Millisecond,
		"limiter let calls through faster than the refill rate")
}

func TestLimiterHonorsCancellation(t *testing.T) {
	limiter := NewLimiter(1)
	ctx := context.Background()

	// Drain the single token.
	require.NoError(t, limiter.Acquire(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := limiter.Acquire(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimiterFractionalRate(t *testing.T) {
	// A rate below one call per second must still accumulate a whole
	// token instead of waiting forever.
	limiter := NewLimiter(0.5)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, ok := limiter.take()
	require.True(t, ok, "bucket starts with one whole token")

	wait, ok := limiter.take()
	require.False(t, ok)
	assert.Equal(t, 2*time.Second, wait, "one token at 0.5/s takes 2s")

	now = now.Add(2 * time.Second)
	_, ok = limiter.take()
	assert.True(t, ok, "token accrued after the computed wait")
}

func TestLimiterLazyRefill(t *testing.T) {
	limiter := NewLimiter(10)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.tokens = 0

	// No time passes: one token needs ceil(1/10*1000) = 100ms.
	wait, ok := limiter.take()
	require.False(t, ok)
	assert.Equal(t, 100*time.Millisecond, wait)

	// Half a second later five tokens have accrued.
	now = now.Add(500 * time.Millisecond)
	_, ok = limiter.take()
	require.True(t, ok)
	assert.InDelta(t, 4.0, limiter.tokens, 0.01)
}
