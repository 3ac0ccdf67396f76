// Package broker carries event notifications onto the risk_events topic
// exchange. The Publisher interface is the only surface the ingestion
// transaction sees; the AMQP adapter and the in-memory bus both satisfy it.
package broker

import (
	"context"
	"errors"
)

// Exchange is the single durable topic exchange the service publishes to.
const Exchange = "risk_events"

// ErrPublish wraps every adapter-level publish failure so callers can map
// it to the messaging error class without knowing the backend.
var ErrPublish = errors.New("broker: publish failed")

// Message is the wire payload for a created event.
type Message struct {
	EventID       string `json:"event_id"`
	TenantID      string `json:"tenant_id"`
	CorrelationID string `json:"correlation_id"`
	EventType     string `json:"event_type"`
	Status        string `json:"status"`
}

// Publisher sends one message to a routing key on the exchange. The
// idempotency key travels as a per-message header so consumers can dedupe
// retried submissions.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Message, idempotencyKey string) error
}
