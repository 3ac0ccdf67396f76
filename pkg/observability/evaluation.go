package observability

import (
	"context"
	"math"

	"github.com/arbiter-io/arbiter/pkg/audit"
)

// EvaluationResult holds deterministic decision-quality scores in [0, 1].
type EvaluationResult struct {
	ConfidenceScore      float64 `json:"confidence_score"`
	PolicyAlignmentScore float64 `json:"policy_alignment_score"`
	GuardrailScore       float64 `json:"guardrail_score"`
	OverallQualityScore  float64 `json:"overall_quality_score"`
}

// EvaluationService scores finished decisions. Fully deterministic: the
// same workflow outcome always yields the same scores.
type EvaluationService struct {
	sink audit.Sink
}

// NewEvaluationService creates a service auditing to sink (nil disables).
func NewEvaluationService(sink audit.Sink) *EvaluationService {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &EvaluationService{sink: sink}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// EvaluateDecision computes the quality scores and emits one audit record.
func (s *EvaluationService) EvaluateDecision(ctx context.Context, tenantID, eventID, correlationID, finalDecision, policyResult, guardrailResult string, riskScore float64) (EvaluationResult, error) {
	policyOK := 0.0
	if policyResult == "PASS" {
		policyOK = 1.0
	}
	guardrailOK := 0.0
	if guardrailResult == "OK" {
		guardrailOK = 1.0
	}
	riskNormalized := 1.0 - riskScore/100.0
	confidence := (policyOK + guardrailOK + riskNormalized) / 3.0
	overall := (confidence + policyOK + guardrailOK) / 3.0

	result := EvaluationResult{
		ConfidenceScore:      round4(confidence),
		PolicyAlignmentScore: round4(policyOK),
		GuardrailScore:       round4(guardrailOK),
		OverallQualityScore:  round4(overall),
	}

	err := s.sink.Record(ctx, audit.NewRecord(
		"evaluation_service", tenantID, "evaluation_completed", "workflow", eventID,
		"quality_scoring", correlationID,
		map[string]any{
			"confidence_score":       result.ConfidenceScore,
			"policy_alignment_score": result.PolicyAlignmentScore,
			"guardrail_score":        result.GuardrailScore,
			"overall_quality_score":  result.OverallQualityScore,
			"final_decision":         finalDecision,
		},
	))
	return result, err
}
