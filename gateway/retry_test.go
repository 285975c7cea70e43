package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("connection reset by peer"), true},
		{errors.New("request Timed Out"), true},
		{errors.New("getAccountInfo call failed: HTTP 429 Too Many Requests"), true},
		{errors.New("HTTP 502 Bad Gateway"), true},
		{errors.New("HTTP 503 Service Unavailable"), true},
		{errors.New("HTTP 504 Gateway Timeout"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("block not found"), true},
		{errors.New("rpc error -32602: invalid params"), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "err: %v", tt.err)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryNonRetryableFailsFast(t *testing.T) {
	attempts := 0
	wantErr := errors.New("rpc error -32602: invalid params")
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("timeout on attempt %d", attempts)
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "attempt 4")
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error {
		attempts++
		return errors.New("timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
