package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/resilience"
)

var errDownstream = errors.New("downstream unavailable")

func failing(ctx context.Context) error { return errDownstream }
func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb := resilience.NewCircuitBreaker("broker", 3, 50*time.Millisecond)

	assert.Equal(t, resilience.BreakerClosed, cb.State())

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, failing)
		require.ErrorIs(t, err, errDownstream)
	}
	assert.Equal(t, resilience.BreakerOpen, cb.State())

	// Rejected fast, wrapped fn never invoked.
	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	ctx := context.Background()
	cb := resilience.NewCircuitBreaker("broker", 3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.Equal(t, resilience.BreakerOpen, cb.State())

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, resilience.BreakerClosed, cb.State())

	// Counter was zeroed: two fresh failures do not reopen at threshold 3.
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, resilience.BreakerClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	ctx := context.Background()
	cb := resilience.NewCircuitBreaker("broker", 2, 30*time.Millisecond)

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.Equal(t, resilience.BreakerOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	err := cb.Execute(ctx, failing)
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, resilience.BreakerOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	cb := resilience.NewCircuitBreaker("broker", 3, time.Second)

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, succeeding))

	// Two more failures still below threshold after the reset.
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, resilience.BreakerClosed, cb.State())
}
