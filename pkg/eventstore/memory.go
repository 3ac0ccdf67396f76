package eventstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/arbiter-io/arbiter/pkg/domain"
)

// MemoryStore is a mutex-guarded map implementation of Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*domain.Event // key: tenant + "\x00" + event_id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*domain.Event)}
}

func memKey(tenantID, eventID string) string {
	return tenantID + "\x00" + eventID
}

func (s *MemoryStore) Save(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(event.TenantID, event.EventID)
	if existing, ok := s.events[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *event
	s.events[k] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, eventID string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[memKey(tenantID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, tenantID, eventID string, next domain.Status) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[memKey(tenantID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	cp := *e
	return &cp, nil
}
