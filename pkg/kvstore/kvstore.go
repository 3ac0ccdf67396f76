// Package kvstore defines the key-value contract the service consumes and
// provides in-memory and Redis-backed implementations. The KV store is a
// cache (idempotency records, workflow snapshots, locks, rate windows) and
// never the system of record for events.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the key-value contract. All operations take a context and honor
// its deadline; implementations add their own per-operation timeout on top
// where the backend supports it.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores value only when key is absent. Returns true when
	// the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// DeleteIfValue atomically deletes key only when its current value
	// equals value. Returns true when the delete happened.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)

	// Incr atomically increments the integer at key, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL of an existing key. Returns false when the key
	// does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key namespaces. Every key the core writes goes through one of these.
func IdempotencyKey(tenantID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", tenantID, key)
}

func EventKey(tenantID, eventID string) string {
	return fmt.Sprintf("event:%s:%s", tenantID, eventID)
}

func WorkflowKey(eventID string) string {
	return fmt.Sprintf("workflow:%s", eventID)
}

func ComplianceWorkflowKey(eventID string) string {
	return fmt.Sprintf("workflow:compliance:%s", eventID)
}

func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func RateKey(tenantID string) string {
	return fmt.Sprintf("rate:tenant:%s", tenantID)
}
