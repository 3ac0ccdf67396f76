package domain

import "errors"

// Domain error kinds. Callers branch with errors.Is; messages wrap with
// detail via fmt.Errorf("%w: ...", ...).
var (
	// ErrValidation marks a domain validation rule violation (client fix required).
	ErrValidation = errors.New("domain validation failed")
	// ErrInvalidTenant marks an empty or malformed tenant id.
	ErrInvalidTenant = errors.New("tenant_id must not be empty")
	// ErrRiskScoreOutOfRange marks a risk score outside [0, 100].
	ErrRiskScoreOutOfRange = errors.New("risk_score out of bounds")
	// ErrInvalidMetadata marks metadata that cannot be serialized to JSON.
	ErrInvalidMetadata = errors.New("metadata must be JSON-serializable")
	// ErrInvalidTransition marks a status move outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrHighRisk marks a risk threshold breach. Distinct class for metrics
	// and audit; not retryable.
	ErrHighRisk = errors.New("risk threshold breached")
)
