// Package security holds the cross-cutting security primitives: the RBAC
// matrix, the tenant-isolation check, and authenticated symmetric
// encryption for payloads at rest.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a caller role.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleAnalyst  Role = "ANALYST"
	RoleApprover Role = "APPROVER"
	RoleViewer   Role = "VIEWER"
)

// Action is a permissioned operation.
type Action string

const (
	ActionCreate        Action = "create"
	ActionApprove       Action = "approve"
	ActionView          Action = "view"
	ActionRegisterModel Action = "register_model"
)

// Policy-violation error kinds.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTenantMismatch   = errors.New("tenant isolation violation")
)

// permissions is the allow matrix. Unknown (role, action) denies by default.
var permissions = map[Role]map[Action]bool{
	RoleAdmin:    {ActionCreate: true, ActionApprove: true, ActionView: true, ActionRegisterModel: true},
	RoleAnalyst:  {ActionCreate: true, ActionView: true},
	RoleApprover: {ActionApprove: true, ActionView: true},
	RoleViewer:   {ActionView: true},
}

// CheckPermission returns ErrPermissionDenied unless the matrix allows
// action for role.
func CheckPermission(role Role, action Action) error {
	if !permissions[role][action] {
		return fmt.Errorf("%w: role %s may not %s", ErrPermissionDenied, role, action)
	}
	return nil
}

// Allowed reports the matrix entry without constructing an error.
func Allowed(role Role, action Action) bool {
	return permissions[role][action]
}

// CheckTenantAccess enforces tenant isolation: both tenants must be
// non-empty and identical. Any violation is fatal for the request.
func CheckTenantAccess(resourceTenant, requestTenant string) error {
	if strings.TrimSpace(resourceTenant) == "" || strings.TrimSpace(requestTenant) == "" {
		return fmt.Errorf("%w: tenant ids must be non-empty", ErrTenantMismatch)
	}
	if resourceTenant != requestTenant {
		return fmt.Errorf("%w: resource owned by another tenant", ErrTenantMismatch)
	}
	return nil
}
