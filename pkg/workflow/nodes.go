package workflow

import (
	"fmt"
	"time"

	"github.com/arbiter-io/arbiter/pkg/policy"
)

// Node actions and audit reasons, one pair per node.
const (
	ActionContextRetrieved  = "context_retrieved"
	ActionPolicyValidated   = "policy_validated"
	ActionRiskScored        = "risk_scored"
	ActionGuardrailsApplied = "guardrails_applied"
	ActionDecisionMade      = "decision_made"

	ReasonRetrieval  = "vector_retrieval_simulated"
	ReasonPolicy     = "rule_based_validation"
	ReasonScoring    = "deterministic_scoring"
	ReasonGuardrails = "threshold_and_pattern_check"
	ReasonDecision   = "deterministic_decision"
	ReasonCompliance = "compliance_decision"
)

// NodeResult is one executed node's outcome: the successor state (trail
// entry already appended) plus the entry and audit reason for the caller's
// bookkeeping.
type NodeResult struct {
	State  State
	Entry  TrailEntry
	Reason string
}

// NodeFunc executes one pipeline stage. Implementations are pure over the
// input state and never mutate it.
type NodeFunc func(s State) NodeResult

// Nodes builds the five stage functions for one pipeline variant. The
// policy and guardrail predicates are compiled CEL rules.
type Nodes struct {
	rules *policy.Engine
	kind  Kind
}

// NewNodes wires the stage functions over the given rule engine.
func NewNodes(rules *policy.Engine, kind Kind) *Nodes {
	return &Nodes{rules: rules, kind: kind}
}

// Ordered returns the stages in fixed execution order.
func (n *Nodes) Ordered() []struct {
	Name string
	Run  NodeFunc
} {
	return []struct {
		Name string
		Run  NodeFunc
	}{
		{NodeRetrieval, n.Retrieval},
		{NodePolicyValidation, n.PolicyValidation},
		{NodeRiskScoring, n.RiskScoring},
		{NodeGuardrails, n.Guardrails},
		{NodeDecision, n.Decision},
	}
}

// finish appends the trail entry to the successor state and packages the
// result. execution time is measured from started.
func finish(s State, node, action, reason string, started time.Time, output map[string]any) NodeResult {
	entry := TrailEntry{
		Node:          node,
		Action:        action,
		At:            time.Now().UTC(),
		ModelVersion:  s.ModelVersion,
		PromptVersion: s.PromptVersion,
		ExecutionMS:   time.Since(started).Milliseconds(),
		StageOutput:   output,
	}
	s.AuditTrail = append(s.AuditTrail, entry)
	return NodeResult{State: s, Entry: entry, Reason: reason}
}

// Retrieval derives the simulated context string from tenant and raw
// event type.
func (n *Nodes) Retrieval(s State) NodeResult {
	started := time.Now()
	next := s.clone()

	eventType := s.rawEventType()
	if eventType == "" {
		eventType = "unknown"
	}
	next.RetrievedContext = fmt.Sprintf("simulated_context:%s:%s", s.TenantID, eventType)

	return finish(next, NodeRetrieval, ActionContextRetrieved, ReasonRetrieval, started,
		map[string]any{"retrieved_context": next.RetrievedContext})
}

// PolicyValidation evaluates the compiled policy rule over the raw event.
func (n *Nodes) PolicyValidation(s State) NodeResult {
	started := time.Now()
	next := s.clone()

	next.PolicyResult = PolicyPass
	if n.rules.PolicyFails(policy.Input{EventType: s.rawEventType(), Metadata: s.rawMetadata()}) {
		next.PolicyResult = PolicyFail
	}

	return finish(next, NodePolicyValidation, ActionPolicyValidated, ReasonPolicy, started,
		map[string]any{"policy_result": next.PolicyResult})
}

// RiskScoring assigns the deterministic score tiers.
func (n *Nodes) RiskScoring(s State) NodeResult {
	started := time.Now()
	next := s.clone()

	metadata := s.rawMetadata()
	switch {
	case s.rawEventType() == "high_risk":
		next.RiskScore = 85
	case metadata["category"] == "sensitive":
		next.RiskScore = 70
	case s.rawEventType() == "low_risk":
		next.RiskScore = 15
	default:
		next.RiskScore = 30
	}

	return finish(next, NodeRiskScoring, ActionRiskScored, ReasonScoring, started,
		map[string]any{"risk_score": next.RiskScore})
}

// Guardrails flags a violation on threshold breach or blocked pattern.
func (n *Nodes) Guardrails(s State) NodeResult {
	started := time.Now()
	next := s.clone()

	next.GuardrailResult = GuardrailOK
	if s.RiskScore >= HighRiskThreshold ||
		n.rules.BlockedPattern(policy.Input{EventType: s.rawEventType(), Metadata: s.rawMetadata(), RiskScore: s.RiskScore}) {
		next.GuardrailResult = GuardrailViolation
	}

	return finish(next, NodeGuardrails, ActionGuardrailsApplied, ReasonGuardrails, started,
		map[string]any{"guardrail_result": next.GuardrailResult})
}

// Decision escalates on any failed prior stage; the compliance variant
// also escalates on regulatory flags and mirrors the outcome into
// approval_required.
func (n *Nodes) Decision(s State) NodeResult {
	started := time.Now()
	next := s.clone()

	escalate := s.PolicyResult == PolicyFail ||
		s.RiskScore >= HighRiskThreshold ||
		s.GuardrailResult == GuardrailViolation

	reason := ReasonDecision
	output := map[string]any{}
	if n.kind == KindCompliance {
		reason = ReasonCompliance
		if len(s.RegulatoryFlags) > 0 {
			escalate = true
		}
		next.ApprovalRequired = escalate
		output["approval_required"] = escalate
	}

	next.FinalDecision = DecisionApproved
	if escalate {
		next.FinalDecision = DecisionEscalate
	}
	output["final_decision"] = next.FinalDecision

	return finish(next, NodeDecision, ActionDecisionMade, reason, started, output)
}
