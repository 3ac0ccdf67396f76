package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arbiter-io/arbiter/pkg/kvstore"
)

// SnapshotTTL is how long a finished workflow state stays cached.
const SnapshotTTL = 3600 * time.Second

// SnapshotStore persists finished workflow states in the KV cache. A hit
// on entry makes the whole run idempotent.
type SnapshotStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewSnapshotStore wraps kv. ttl <= 0 uses SnapshotTTL.
func NewSnapshotStore(kv kvstore.Store, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = SnapshotTTL
	}
	return &SnapshotStore{kv: kv, ttl: ttl}
}

func snapshotKey(kind Kind, eventID string) string {
	if kind == KindCompliance {
		return kvstore.ComplianceWorkflowKey(eventID)
	}
	return kvstore.WorkflowKey(eventID)
}

// Load returns the stored state for (kind, eventID) and whether one exists.
func (s *SnapshotStore) Load(ctx context.Context, kind Kind, eventID string) (State, bool, error) {
	raw, err := s.kv.Get(ctx, snapshotKey(kind, eventID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load workflow snapshot: %w", err)
	}
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return State{}, false, fmt.Errorf("decode workflow snapshot: %w", err)
	}
	return state, true, nil
}

// Save stores the finished state under the variant's key.
func (s *SnapshotStore) Save(ctx context.Context, kind Kind, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode workflow snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, snapshotKey(kind, state.EventID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("save workflow snapshot: %w", err)
	}
	return nil
}
