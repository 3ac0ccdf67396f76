package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arbiter-io/arbiter/pkg/audit"
)

// Prompt registry error kinds.
var (
	ErrPromptNotFound = errors.New("prompt not found")
	ErrPromptExists   = errors.New("prompt already registered")
)

// PromptRecord is one immutable prompt version.
type PromptRecord struct {
	PromptID     string    `json:"prompt_id"`
	Version      int       `json:"version"`
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	ChangeReason string    `json:"change_reason"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
}

// PromptRegistry stores monotonically versioned prompts. Updates never
// rewrite a prior version; they append version max+1.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string][]*PromptRecord // prompt_id -> versions, ascending
	sink    audit.Sink
}

// NewPromptRegistry creates an empty registry auditing to sink.
func NewPromptRegistry(sink audit.Sink) *PromptRegistry {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &PromptRegistry{
		prompts: make(map[string][]*PromptRecord),
		sink:    sink,
	}
}

// Register stores version 1 of a new prompt.
func (r *PromptRegistry) Register(ctx context.Context, author, promptID, name, content string) (*PromptRecord, error) {
	r.mu.Lock()
	if len(r.prompts[promptID]) > 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPromptExists, promptID)
	}
	rec := &PromptRecord{
		PromptID:     promptID,
		Version:      1,
		Name:         name,
		Content:      content,
		ChangeReason: "initial version",
		Author:       author,
		CreatedAt:    time.Now().UTC(),
	}
	r.prompts[promptID] = []*PromptRecord{rec}
	out := *rec
	r.mu.Unlock()

	if err := r.sink.Record(ctx, audit.NewRecord(author, "", "prompt_registered", "prompt", promptID, "", "", map[string]any{"version": 1})); err != nil {
		return nil, fmt.Errorf("audit prompt registration: %w", err)
	}
	return &out, nil
}

// Update appends a new version (max existing + 1) with the given content.
func (r *PromptRegistry) Update(ctx context.Context, author, promptID, content, changeReason string) (*PromptRecord, error) {
	r.mu.Lock()
	versions := r.prompts[promptID]
	if len(versions) == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
	}
	latest := versions[len(versions)-1]
	rec := &PromptRecord{
		PromptID:     promptID,
		Version:      latest.Version + 1,
		Name:         latest.Name,
		Content:      content,
		ChangeReason: changeReason,
		Author:       author,
		CreatedAt:    time.Now().UTC(),
	}
	r.prompts[promptID] = append(versions, rec)
	out := *rec
	r.mu.Unlock()

	if err := r.sink.Record(ctx, audit.NewRecord(author, "", "prompt_updated", "prompt", promptID, changeReason, "", map[string]any{"version": out.Version})); err != nil {
		return nil, fmt.Errorf("audit prompt update: %w", err)
	}
	return &out, nil
}

// Get returns the given version, or the latest when version is 0.
func (r *PromptRegistry) Get(promptID string, version int) (*PromptRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.prompts[promptID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
	}
	if version == 0 {
		out := *versions[len(versions)-1]
		return &out, nil
	}
	for _, rec := range versions {
		if rec.Version == version {
			out := *rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s v%d", ErrPromptNotFound, promptID, version)
}
