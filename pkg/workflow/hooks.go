package workflow

import (
	"context"
	"time"
)

// Hooks receives runtime lifecycle callbacks. The observability package
// provides the production implementation; the runtime only requires this
// interface so nothing here depends on metrics or tracing machinery.
// RunStarted and NodeStarted may return a derived context (carrying an
// open span) which the runtime threads through the matching Finished call.
type Hooks interface {
	RunStarted(ctx context.Context, s *State, kind Kind) context.Context
	NodeStarted(ctx context.Context, node string) context.Context
	NodeFinished(ctx context.Context, s *State, entry TrailEntry)
	RunFinished(ctx context.Context, s *State, kind Kind, elapsed time.Duration)
	RunFailed(ctx context.Context, s *State, err error)
}

// NopHooks is the no-op default.
type NopHooks struct{}

func (NopHooks) RunStarted(ctx context.Context, _ *State, _ Kind) context.Context { return ctx }
func (NopHooks) NodeStarted(ctx context.Context, _ string) context.Context        { return ctx }
func (NopHooks) NodeFinished(context.Context, *State, TrailEntry)                 {}
func (NopHooks) RunFinished(context.Context, *State, Kind, time.Duration)         {}
func (NopHooks) RunFailed(context.Context, *State, error)                         {}
