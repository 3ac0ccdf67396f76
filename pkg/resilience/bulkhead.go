package resilience

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when both the slots and the wait queue are full.
var ErrQueueFull = errors.New("bulkhead queue full")

// Bulkhead bounds in-flight work at maxConcurrent and queued work at
// maxQueued. Total admitted work never exceeds maxConcurrent + maxQueued;
// everything beyond fails immediately.
type Bulkhead struct {
	slots     *semaphore.Weighted
	mu        sync.Mutex
	queued    int
	maxQueued int
}

// NewBulkhead creates a bulkhead with the given bounds.
func NewBulkhead(maxConcurrent, maxQueued int) *Bulkhead {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}
	return &Bulkhead{
		slots:     semaphore.NewWeighted(int64(maxConcurrent)),
		maxQueued: maxQueued,
	}
}

// Execute runs fn in a slot, queuing when all slots are busy. A submission
// arriving with a full queue fails with ErrQueueFull without waiting.
func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.slots.TryAcquire(1) {
		defer b.slots.Release(1)
		return fn(ctx)
	}

	b.mu.Lock()
	if b.queued >= b.maxQueued {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.queued++
	b.mu.Unlock()

	err := b.slots.Acquire(ctx, 1)

	b.mu.Lock()
	b.queued--
	b.mu.Unlock()

	if err != nil {
		return err
	}
	defer b.slots.Release(1)
	return fn(ctx)
}

// Queued reports the current queue depth. Health probe input.
func (b *Bulkhead) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued
}
