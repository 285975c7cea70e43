package gateway

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is a token bucket refilling at the configured calls-per-second.
// Capacity equals the rate, floored at one token so fractional rates can
// still accumulate a whole token. Refill is computed lazily from elapsed
// wall-clock time on each acquisition; there is no background timer.
type Limiter struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	last       time.Time
	now        func() time.Time
}

// NewLimiter creates a limiter allowing callsPerSecond sustained calls.
func NewLimiter(callsPerSecond float64) *Limiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	capacity := math.Max(1, callsPerSecond)
	l := &Limiter{
		capacity:   capacity,
		refillRate: callsPerSecond,
		tokens:     capacity,
		now:        time.Now,
	}
	l.last = l.now()
	return l
}

// Acquire consumes one token, suspending until one accrues. The wait is the
// exact time needed for a single token at the configured refill rate.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take refills from elapsed time, then either consumes a token or returns
// the wait needed for one to accrue.
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillRate)
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}

	ms := math.Ceil((1 - l.tokens) / l.refillRate * 1000)
	return time.Duration(ms) * time.Millisecond, false
}
