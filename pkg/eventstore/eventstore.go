// Package eventstore is the durable system of record for events. The
// key-value cache never substitutes for it: there is deliberately no
// constructor here that accepts a kvstore.Store.
package eventstore

import (
	"context"
	"errors"

	"github.com/arbiter-io/arbiter/pkg/domain"
)

// ErrNotFound is returned when no event exists for (tenant, event_id).
var ErrNotFound = errors.New("eventstore: event not found")

// Store persists events keyed by (tenant_id, event_id).
type Store interface {
	// Save writes the event. When an event with the same identity already
	// exists, the existing record wins and is returned unchanged.
	Save(ctx context.Context, event *domain.Event) (*domain.Event, error)

	// Get returns the event scoped to its tenant, or ErrNotFound.
	Get(ctx context.Context, tenantID, eventID string) (*domain.Event, error)

	// UpdateStatus moves the event to next, honoring the lifecycle graph.
	UpdateStatus(ctx context.Context, tenantID, eventID string, next domain.Status) (*domain.Event, error)
}
