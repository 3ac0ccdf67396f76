// Package workflow runs the deterministic five-node decision pipeline:
// retrieval, policy_validation, risk_scoring, guardrails, decision. Node
// outputs are pure functions of the raw event and prior state; snapshots
// make a finished run idempotent and a partial trail resumable.
package workflow

import "time"

// Node names, in execution order.
const (
	NodeRetrieval        = "retrieval"
	NodePolicyValidation = "policy_validation"
	NodeRiskScoring      = "risk_scoring"
	NodeGuardrails       = "guardrails"
	NodeDecision         = "decision"
)

// Stage result values.
const (
	PolicyPass         = "PASS"
	PolicyFail         = "FAIL"
	GuardrailOK        = "OK"
	GuardrailViolation = "VIOLATION"
	DecisionApproved   = "APPROVED"
	DecisionEscalate   = "REQUIRE_APPROVAL"
)

// HighRiskThreshold is the score at or above which guardrails flag a
// violation and the decision escalates.
const HighRiskThreshold = 75.0

// Version defaults used when no approved registry record exists.
const (
	DefaultModelVersion  = "simulated@1"
	DefaultPromptVersion = 1
)

// TrailEntry is one append-only audit-trail record written by a node.
type TrailEntry struct {
	Node          string         `json:"node"`
	Action        string         `json:"action"`
	At            time.Time      `json:"at"`
	ModelVersion  string         `json:"model_version"`
	PromptVersion int            `json:"prompt_version"`
	ExecutionMS   int64          `json:"execution_ms"`
	StageOutput   map[string]any `json:"stage_output,omitempty"`
}

// Kind discriminates the two pipeline variants.
type Kind string

const (
	KindRisk       Kind = "risk"
	KindCompliance Kind = "compliance"
)

// State is the workflow state threaded through the nodes. Nodes never
// mutate their input: each returns a fresh copy with its stage result and
// one more trail entry. RegulatoryFlags and ApprovalRequired apply to the
// compliance variant only.
type State struct {
	EventID       string         `json:"event_id"`
	TenantID      string         `json:"tenant_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RawEvent      map[string]any `json:"raw_event,omitempty"`

	ModelVersion  string `json:"model_version"`
	PromptVersion int    `json:"prompt_version"`

	RetrievedContext string  `json:"retrieved_context,omitempty"`
	PolicyResult     string  `json:"policy_result,omitempty"`
	RiskScore        float64 `json:"risk_score"`
	GuardrailResult  string  `json:"guardrail_result,omitempty"`
	FinalDecision    string  `json:"final_decision,omitempty"`

	AuditTrail []TrailEntry `json:"audit_trail"`

	RegulatoryFlags  []string `json:"regulatory_flags,omitempty"`
	ApprovalRequired bool     `json:"approval_required,omitempty"`
}

// HasNode reports whether the trail already carries an entry for node.
func (s State) HasNode(node string) bool {
	for _, e := range s.AuditTrail {
		if e.Node == node {
			return true
		}
	}
	return false
}

// clone returns a deep copy so the caller's state stays untouched.
func (s State) clone() State {
	out := s
	if s.RawEvent != nil {
		out.RawEvent = make(map[string]any, len(s.RawEvent))
		for k, v := range s.RawEvent {
			out.RawEvent[k] = v
		}
	}
	out.AuditTrail = make([]TrailEntry, len(s.AuditTrail), len(s.AuditTrail)+1)
	copy(out.AuditTrail, s.AuditTrail)
	if s.RegulatoryFlags != nil {
		out.RegulatoryFlags = append([]string(nil), s.RegulatoryFlags...)
	}
	return out
}

// rawEventType returns the raw event's event_type field, or "".
func (s State) rawEventType() string {
	v, _ := s.RawEvent["event_type"].(string)
	return v
}

// rawMetadata returns the raw event's metadata mapping, or nil.
func (s State) rawMetadata() map[string]any {
	v, _ := s.RawEvent["metadata"].(map[string]any)
	return v
}
