// Package resilience is the scalability and failure-isolation substrate:
// circuit breaker, bulkhead, distributed lock, per-tenant rate limiter,
// tenant partitioner, autoscaling policy and the health aggregator.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call fast.
var ErrCircuitOpen = errors.New("circuit breaker is OPEN")

// BreakerState is the externally reported breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker wraps calls to a flaky dependency with the three-state
// admission machine. Consecutive failures reaching the threshold open the
// breaker; after the recovery timeout one probe is admitted.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker with the given failure threshold and
// recovery timeout.
func NewCircuitBreaker(name string, failureThreshold uint32, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     recoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failureThreshold
			},
		}),
	}
}

// Execute runs fn under the breaker. A rejection surfaces ErrCircuitOpen
// without invoking fn; fn's own error passes through and counts as failure.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	return err
}

// State reports the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// Name returns the breaker's configured name.
func (b *CircuitBreaker) Name() string { return b.cb.Name() }
