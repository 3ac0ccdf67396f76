// Package domain holds the event model and validation rules for the
// governed-decision service. Pure business semantics, no infrastructure.
package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of an event. Transitions are validated.
type Status string

const (
	// StatusReceived is the first stored state at the application boundary.
	StatusReceived   Status = "received"
	StatusCreated    Status = "created"
	StatusValidated  Status = "validated"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
)

// statusTransitions maps each status to the set of statuses it may move to.
// Terminal states have no outgoing edges.
var statusTransitions = map[Status]map[Status]bool{
	StatusReceived:   {StatusValidated: true, StatusRejected: true},
	StatusCreated:    {StatusValidated: true, StatusRejected: true},
	StatusValidated:  {StatusProcessing: true},
	StatusProcessing: {StatusApproved: true, StatusRejected: true, StatusFailed: true},
	StatusApproved:   {},
	StatusRejected:   {},
	StatusFailed:     {},
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	next, ok := statusTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the move from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	return statusTransitions[s][next]
}

// EventType discriminates the event variants on the wire and in dispatch.
type EventType string

const (
	EventTypeRisk       EventType = "RiskEvent"
	EventTypeCompliance EventType = "ComplianceEvent"
)

// Event is a tagged variant: Type selects which optional fields apply.
// RiskEvent carries RiskScore and Category; ComplianceEvent carries
// RegulationRef and ComplianceType.
type Event struct {
	EventID       string         `json:"event_id"`
	TenantID      string         `json:"tenant_id"`
	Type          EventType      `json:"event_type"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Version       string         `json:"version"`
	CorrelationID string         `json:"correlation_id,omitempty"`

	// Risk variant fields.
	RiskScore *float64 `json:"risk_score,omitempty"`
	Category  string   `json:"category,omitempty"`

	// Compliance variant fields.
	RegulationRef  string `json:"regulation_ref,omitempty"`
	ComplianceType string `json:"compliance_type,omitempty"`
}

// NewRiskEvent builds a risk event in status created with UTC timestamp.
func NewRiskEvent(eventID, tenantID string, riskScore *float64, category string, metadata map[string]any, version string) *Event {
	return &Event{
		EventID:   eventID,
		TenantID:  tenantID,
		Type:      EventTypeRisk,
		Status:    StatusCreated,
		CreatedAt: time.Now().UTC(),
		Metadata:  copyMetadata(metadata),
		Version:   version,
		RiskScore: riskScore,
		Category:  category,
	}
}

// NewComplianceEvent builds a compliance event in status created with UTC timestamp.
func NewComplianceEvent(eventID, tenantID, regulationRef, complianceType string, metadata map[string]any, version string) *Event {
	return &Event{
		EventID:        eventID,
		TenantID:       tenantID,
		Type:           EventTypeCompliance,
		Status:         StatusCreated,
		CreatedAt:      time.Now().UTC(),
		Metadata:       copyMetadata(metadata),
		Version:        version,
		RegulationRef:  regulationRef,
		ComplianceType: complianceType,
	}
}

// TransitionTo moves the event to next if the lifecycle graph allows it.
func (e *Event) TransitionTo(next Status) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	return nil
}

// RoutingKey returns the topic routing key for the event variant.
func (e *Event) RoutingKey() string {
	if e.Type == EventTypeCompliance {
		return "compliance.created"
	}
	return "risk.created"
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
