package broker

import (
	"context"
	"fmt"
	"sync"
)

// Published records one delivery accepted by the in-memory bus.
type Published struct {
	RoutingKey     string
	Message        Message
	IdempotencyKey string
}

// Bus is an in-memory Publisher for tests and lite mode. It records every
// publish and can be armed to fail.
type Bus struct {
	mu        sync.Mutex
	published []Published
	failAll   error
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// FailWith makes every subsequent publish fail with the given message.
// Empty message disarms.
func (b *Bus) FailWith(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg == "" {
		b.failAll = nil
		return
	}
	b.failAll = fmt.Errorf("%w: %s", ErrPublish, msg)
}

func (b *Bus) Publish(ctx context.Context, routingKey string, msg Message, idempotencyKey string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAll != nil {
		return b.failAll
	}
	b.published = append(b.published, Published{
		RoutingKey:     routingKey,
		Message:        msg,
		IdempotencyKey: idempotencyKey,
	})
	return nil
}

// Published returns a copy of everything accepted so far.
func (b *Bus) PublishedMessages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}
