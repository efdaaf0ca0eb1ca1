package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failingCall(ctx context.Context) error { return errBackend }
func okCall(ctx context.Context) error      { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(&Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failingCall), errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open circuit rejects without invoking the call.
	called := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(&Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.NoError(t, b.Execute(ctx, okCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	b := New(&Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeReopens(t *testing.T) {
	b := New(&Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)
	require.ErrorIs(t, b.Execute(ctx, failingCall), errBackend)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(&Config{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Execute(ctx, okCall))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerStats(t *testing.T) {
	b := New(&Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, b.Execute(ctx, okCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.Error(t, b.Execute(ctx, failingCall))
	require.ErrorIs(t, b.Execute(ctx, okCall), ErrCircuitOpen)

	stats := b.GetStats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalRejections)
	assert.False(t, stats.LastFailureTime.IsZero())
}

func TestBreakerReset(t *testing.T) {
	b := New(&Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	require.Error(t, b.Execute(context.Background(), failingCall))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), okCall))
}
