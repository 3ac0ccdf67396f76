package observability

import (
	"errors"

	"github.com/arbiter-io/arbiter/pkg/broker"
	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/security"
)

// FailureCategory is the failure taxonomy for metrics and audit.
type FailureCategory string

const (
	CategoryValidation      FailureCategory = "VALIDATION_ERROR"
	CategoryPolicyViolation FailureCategory = "POLICY_VIOLATION"
	CategoryHighRisk        FailureCategory = "HIGH_RISK"
	CategoryWorkflow        FailureCategory = "WORKFLOW_ERROR"
	CategoryInfra           FailureCategory = "INFRA_ERROR"
	CategoryMessaging       FailureCategory = "MESSAGING_ERROR"
	CategoryUnexpected      FailureCategory = "UNEXPECTED_ERROR"
)

// classificationOrder: first matching sentinel wins; each error kind maps
// to exactly one category. Unknown errors go to UNEXPECTED_ERROR.
var classificationOrder = []struct {
	sentinel error
	category FailureCategory
}{
	{domain.ErrHighRisk, CategoryHighRisk},
	{domain.ErrInvalidTransition, CategoryWorkflow},
	{domain.ErrInvalidTenant, CategoryValidation},
	{domain.ErrInvalidMetadata, CategoryValidation},
	{domain.ErrRiskScoreOutOfRange, CategoryValidation},
	{domain.ErrValidation, CategoryValidation},
	{security.ErrPermissionDenied, CategoryPolicyViolation},
	{security.ErrTenantMismatch, CategoryPolicyViolation},
	{security.ErrMissingKey, CategoryInfra},
	{security.ErrDecryptFailed, CategoryInfra},
	{governance.ErrModelNotApproved, CategoryPolicyViolation},
	{governance.ErrAlreadyApproved, CategoryPolicyViolation},
	{governance.ErrModelRejected, CategoryPolicyViolation},
	{governance.ErrApprovalDecided, CategoryPolicyViolation},
	{broker.ErrPublish, CategoryMessaging},
}

// Classify maps an error chain to its failure category.
func Classify(err error) FailureCategory {
	if err == nil {
		return CategoryUnexpected
	}
	for _, c := range classificationOrder {
		if errors.Is(err, c.sentinel) {
			return c.category
		}
	}
	return CategoryUnexpected
}
