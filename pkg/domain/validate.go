package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Risk score bounds. Domain constants.
const (
	RiskScoreMin = 0.0
	RiskScoreMax = 100.0
)

// RiskEventCreateRequest is the create payload for a risk event.
type RiskEventCreateRequest struct {
	TenantID  string         `json:"tenant_id"`
	RiskScore *float64       `json:"risk_score,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Version   string         `json:"version"`
}

// ComplianceEventCreateRequest is the create payload for a compliance event.
type ComplianceEventCreateRequest struct {
	TenantID       string         `json:"tenant_id"`
	RegulationRef  string         `json:"regulation_ref,omitempty"`
	ComplianceType string         `json:"compliance_type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Version        string         `json:"version"`
}

// EventResponse is the read/response shape for an event.
type EventResponse struct {
	EventID   string         `json:"event_id"`
	TenantID  string         `json:"tenant_id"`
	Status    Status         `json:"status"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Version   string         `json:"version"`
}

// ValidateTenantID enforces the tenant constraint: must not be empty or blank.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w", ErrInvalidTenant)
	}
	return nil
}

// ValidateRiskScore enforces bounds on an optional risk score.
func ValidateRiskScore(score *float64) error {
	if score == nil {
		return nil
	}
	if *score < RiskScoreMin || *score > RiskScoreMax {
		return fmt.Errorf("%w: must be between %g and %g, got %g", ErrRiskScoreOutOfRange, RiskScoreMin, RiskScoreMax, *score)
	}
	return nil
}

// ValidateMetadata ensures metadata round-trips through JSON.
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	if _, err := json.Marshal(metadata); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return nil
}

// ValidateRiskCreate checks tenant, score bounds, metadata and version of a
// risk create request.
func ValidateRiskCreate(req *RiskEventCreateRequest) error {
	if err := ValidateTenantID(req.TenantID); err != nil {
		return err
	}
	if err := ValidateRiskScore(req.RiskScore); err != nil {
		return err
	}
	if err := ValidateMetadata(req.Metadata); err != nil {
		return err
	}
	if strings.TrimSpace(req.Version) == "" {
		return fmt.Errorf("%w: version must be set and non-empty", ErrValidation)
	}
	return nil
}

// ValidateComplianceCreate checks tenant, metadata and version of a
// compliance create request.
func ValidateComplianceCreate(req *ComplianceEventCreateRequest) error {
	if err := ValidateTenantID(req.TenantID); err != nil {
		return err
	}
	if err := ValidateMetadata(req.Metadata); err != nil {
		return err
	}
	if strings.TrimSpace(req.Version) == "" {
		return fmt.Errorf("%w: version must be set and non-empty", ErrValidation)
	}
	return nil
}

const riskCreateSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"risk_score": {"type": ["number", "null"], "minimum": 0, "maximum": 100},
		"category": {"type": ["string", "null"]},
		"metadata": {"type": ["object", "null"]},
		"version": {"type": "string", "minLength": 1}
	},
	"required": ["version"]
}`

const complianceCreateSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"regulation_ref": {"type": ["string", "null"]},
		"compliance_type": {"type": ["string", "null"]},
		"metadata": {"type": ["object", "null"]},
		"version": {"type": "string", "minLength": 1}
	},
	"required": ["version"]
}`

var (
	riskSchema       = jsonschema.MustCompileString("risk_event_create.json", riskCreateSchema)
	complianceSchema = jsonschema.MustCompileString("compliance_event_create.json", complianceCreateSchema)
)

// ValidateRiskPayload validates a raw risk create body against the wire schema.
func ValidateRiskPayload(raw []byte) error {
	return validatePayload(riskSchema, raw)
}

// ValidateCompliancePayload validates a raw compliance create body against the wire schema.
func ValidateCompliancePayload(raw []byte) error {
	return validatePayload(complianceSchema, raw)
}

func validatePayload(sch *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
