package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/security"
)

// ApprovalStatus is the lifecycle status of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Approval workflow error kinds.
var (
	ErrApprovalNotFound = errors.New("approval request not found")
	ErrApprovalDecided  = errors.New("approval request already decided")
)

// ApprovalRequest is one human-in-the-loop gate. Decisions replace the
// record wholesale, preserving request_id and created_at.
type ApprovalRequest struct {
	RequestID    string         `json:"request_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	RequestedBy  string         `json:"requested_by"`
	Status       ApprovalStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	DecidedBy    string         `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// ApprovalWorkflow is the RBAC-gated approval state machine.
type ApprovalWorkflow struct {
	mu       sync.RWMutex
	requests map[string]*ApprovalRequest
	sink     audit.Sink
}

// NewApprovalWorkflow creates an empty workflow auditing to sink.
func NewApprovalWorkflow(sink audit.Sink) *ApprovalWorkflow {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &ApprovalWorkflow{
		requests: make(map[string]*ApprovalRequest),
		sink:     sink,
	}
}

// RequestApproval opens a PENDING request for the resource.
func (w *ApprovalWorkflow) RequestApproval(ctx context.Context, requestedBy, resourceType, resourceID string) (*ApprovalRequest, error) {
	req := &ApprovalRequest{
		RequestID:    uuid.New().String(),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestedBy:  requestedBy,
		Status:       ApprovalPending,
		CreatedAt:    time.Now().UTC(),
	}
	w.mu.Lock()
	w.requests[req.RequestID] = req
	out := *req
	w.mu.Unlock()

	if err := w.sink.Record(ctx, audit.NewRecord(requestedBy, "", "approval_requested", resourceType, resourceID, "", "", map[string]any{"request_id": out.RequestID})); err != nil {
		return nil, fmt.Errorf("audit approval request: %w", err)
	}
	return &out, nil
}

// Approve decides a PENDING request positively. The decider's role must
// carry the approve permission.
func (w *ApprovalWorkflow) Approve(ctx context.Context, decider string, role security.Role, requestID, reason string) (*ApprovalRequest, error) {
	return w.decide(ctx, decider, role, requestID, reason, ApprovalApproved, "approval_granted")
}

// Reject decides a PENDING request negatively.
func (w *ApprovalWorkflow) Reject(ctx context.Context, decider string, role security.Role, requestID, reason string) (*ApprovalRequest, error) {
	return w.decide(ctx, decider, role, requestID, reason, ApprovalRejected, "approval_rejected")
}

func (w *ApprovalWorkflow) decide(ctx context.Context, decider string, role security.Role, requestID, reason string, status ApprovalStatus, action string) (*ApprovalRequest, error) {
	if err := security.CheckPermission(role, security.ActionApprove); err != nil {
		return nil, err
	}

	w.mu.Lock()
	current, ok := w.requests[requestID]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, requestID)
	}
	if current.Status != ApprovalPending {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrApprovalDecided, requestID, current.Status)
	}
	now := time.Now().UTC()
	decided := &ApprovalRequest{
		RequestID:    current.RequestID,
		ResourceType: current.ResourceType,
		ResourceID:   current.ResourceID,
		RequestedBy:  current.RequestedBy,
		Status:       status,
		CreatedAt:    current.CreatedAt,
		DecidedBy:    decider,
		DecidedAt:    &now,
		Reason:       reason,
	}
	w.requests[requestID] = decided
	out := *decided
	w.mu.Unlock()

	if err := w.sink.Record(ctx, audit.NewRecord(decider, "", action, out.ResourceType, out.ResourceID, reason, "", map[string]any{"request_id": requestID})); err != nil {
		return nil, fmt.Errorf("audit approval decision: %w", err)
	}
	return &out, nil
}

// Get returns a copy of the request.
func (w *ApprovalWorkflow) Get(requestID string) (*ApprovalRequest, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	req, ok := w.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, requestID)
	}
	out := *req
	return &out, nil
}
