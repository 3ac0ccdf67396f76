// Package audit is the append-only immutable record store. Every state
// change in the service lands here: event ingestion, workflow nodes,
// registry mutations, approval decisions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable audit entry. Construct with NewRecord; never
// mutate an existing record to derive a new one.
type Record struct {
	ID            string         `json:"id"`
	Actor         string         `json:"actor"`
	TenantID      string         `json:"tenant_id"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Reason        string         `json:"reason,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewRecord builds a record with a fresh id and UTC timestamp. The metadata
// map is copied so later caller mutation cannot reach the stored record.
func NewRecord(actor, tenantID, action, resourceType, resourceID, reason, correlationID string, metadata map[string]any) Record {
	var meta map[string]any
	if metadata != nil {
		meta = make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Record{
		ID:            uuid.New().String(),
		Actor:         actor,
		TenantID:      tenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Reason:        reason,
		CorrelationID: correlationID,
		Metadata:      meta,
		Timestamp:     time.Now().UTC(),
	}
}

// Sink accepts records for append-only storage.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Nop discards every record. Placeholder for wiring before a real sink.
type Nop struct{}

func (Nop) Record(ctx context.Context, rec Record) error { return nil }
