package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arbiter-io/arbiter/pkg/domain"
)

// Dispatcher routes ingested events to the runtime matching their variant.
// It satisfies the ingestion layer's workflow trigger contract.
type Dispatcher struct {
	risk       *Runtime
	compliance *Runtime
}

// NewDispatcher wires the two variant runtimes. Either may be nil; events
// for a missing variant are rejected.
func NewDispatcher(risk, compliance *Runtime) *Dispatcher {
	return &Dispatcher{risk: risk, compliance: compliance}
}

// StateFromEvent builds the initial workflow state for an ingested event.
// The raw event is the event's wire representation.
func StateFromEvent(e *domain.Event) (State, error) {
	encoded, err := json.Marshal(e)
	if err != nil {
		return State{}, fmt.Errorf("encode event for workflow: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return State{}, fmt.Errorf("decode event for workflow: %w", err)
	}

	state := State{
		EventID:       e.EventID,
		TenantID:      e.TenantID,
		CorrelationID: e.CorrelationID,
		RawEvent:      raw,
	}
	if e.Type == domain.EventTypeCompliance && e.RegulationRef != "" {
		state.RegulatoryFlags = []string{e.RegulationRef}
	}
	return state, nil
}

// Trigger runs the matching pipeline for e and discards the final state;
// the caller treats failures as best-effort.
func (d *Dispatcher) Trigger(ctx context.Context, e *domain.Event) error {
	state, err := StateFromEvent(e)
	if err != nil {
		return err
	}

	runtime := d.risk
	if e.Type == domain.EventTypeCompliance {
		runtime = d.compliance
	}
	if runtime == nil {
		return fmt.Errorf("no workflow runtime for event type %s", e.Type)
	}

	_, err = runtime.Run(ctx, state)
	return err
}
