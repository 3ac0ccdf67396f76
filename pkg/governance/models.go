// Package governance holds the registries the workflow pins versions
// against (models, prompts) and the human-in-the-loop approval workflow.
// Every mutation emits an audit record.
package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/arbiter-io/arbiter/pkg/audit"
)

// ModelStatus is the approval status of a registered model version.
type ModelStatus string

const (
	ModelPending  ModelStatus = "PENDING"
	ModelApproved ModelStatus = "APPROVED"
	ModelRejected ModelStatus = "REJECTED"
)

// Model registry error kinds.
var (
	ErrModelNotFound    = errors.New("model not found")
	ErrModelExists      = errors.New("model version already registered")
	ErrModelNotApproved = errors.New("model not approved")
	ErrAlreadyApproved  = errors.New("model already approved")
	ErrModelRejected    = errors.New("model is rejected")
	ErrInvalidVersion   = errors.New("model version must be semver")
)

// ModelRecord is one registered model version.
type ModelRecord struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Checksum   string      `json:"checksum"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     ModelStatus `json:"status"`
	ApprovedBy string      `json:"approved_by,omitempty"`
	ApprovedAt *time.Time  `json:"approved_at,omitempty"`
}

// ModelRegistry tracks model versions through PENDING/APPROVED/REJECTED.
// Only APPROVED records are deployable.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]map[string]*ModelRecord // name -> version -> record
	sink   audit.Sink
}

// NewModelRegistry creates an empty registry auditing to sink.
func NewModelRegistry(sink audit.Sink) *ModelRegistry {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &ModelRegistry{
		models: make(map[string]map[string]*ModelRecord),
		sink:   sink,
	}
}

// Register inserts (name, version) in status PENDING.
func (r *ModelRegistry) Register(ctx context.Context, actor, name, version, checksum string) (*ModelRecord, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	r.mu.Lock()
	if r.models[name] == nil {
		r.models[name] = make(map[string]*ModelRecord)
	}
	if _, ok := r.models[name][version]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s", ErrModelExists, name, version)
	}
	rec := &ModelRecord{
		Name:      name,
		Version:   version,
		Checksum:  checksum,
		CreatedAt: time.Now().UTC(),
		Status:    ModelPending,
	}
	r.models[name][version] = rec
	out := *rec
	r.mu.Unlock()

	if err := r.sink.Record(ctx, audit.NewRecord(actor, "", "model_registered", "model", name+"@"+version, "", "", map[string]any{"checksum": checksum})); err != nil {
		return nil, fmt.Errorf("audit model registration: %w", err)
	}
	return &out, nil
}

// Approve transitions a PENDING record to APPROVED.
func (r *ModelRegistry) Approve(ctx context.Context, approver, name, version string) (*ModelRecord, error) {
	r.mu.Lock()
	rec, ok := r.models[name][version]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s", ErrModelNotFound, name, version)
	}
	switch rec.Status {
	case ModelApproved:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s", ErrAlreadyApproved, name, version)
	case ModelRejected:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s cannot be approved", ErrModelRejected, name, version)
	}
	now := time.Now().UTC()
	rec.Status = ModelApproved
	rec.ApprovedBy = approver
	rec.ApprovedAt = &now
	out := *rec
	r.mu.Unlock()

	if err := r.sink.Record(ctx, audit.NewRecord(approver, "", "model_approved", "model", name+"@"+version, "", "", nil)); err != nil {
		return nil, fmt.Errorf("audit model approval: %w", err)
	}
	return &out, nil
}

// Reject transitions any not-yet-REJECTED record to REJECTED.
func (r *ModelRegistry) Reject(ctx context.Context, actor, name, version, reason string) (*ModelRecord, error) {
	r.mu.Lock()
	rec, ok := r.models[name][version]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s", ErrModelNotFound, name, version)
	}
	if rec.Status == ModelRejected {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s@%s", ErrModelRejected, name, version)
	}
	rec.Status = ModelRejected
	out := *rec
	r.mu.Unlock()

	if err := r.sink.Record(ctx, audit.NewRecord(actor, "", "model_rejected", "model", name+"@"+version, reason, "", nil)); err != nil {
		return nil, fmt.Errorf("audit model rejection: %w", err)
	}
	return &out, nil
}

// GetApproved returns the APPROVED record for (name, version). An empty
// version selects the highest approved semver.
func (r *ModelRegistry) GetApproved(name, version string) (*ModelRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModelNotApproved, name)
	}

	if version != "" {
		rec, ok := versions[version]
		if !ok || rec.Status != ModelApproved {
			return nil, fmt.Errorf("%w: %s@%s", ErrModelNotApproved, name, version)
		}
		out := *rec
		return &out, nil
	}

	var approved []*semver.Version
	byVersion := make(map[string]*ModelRecord)
	for v, rec := range versions {
		if rec.Status != ModelApproved {
			continue
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		approved = append(approved, parsed)
		byVersion[v] = rec
	}
	if len(approved) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModelNotApproved, name)
	}
	sort.Sort(semver.Collection(approved))
	latest := approved[len(approved)-1].Original()
	out := *byVersion[latest]
	return &out, nil
}
