package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arbiter-io/arbiter/pkg/kvstore"
)

// DistributedLock is a TTL-bounded lock over the key-value store. The TTL
// is the absolute upper bound on lock lifetime; release is holder-safe via
// atomic compare-and-delete on the holder token.
type DistributedLock struct {
	store kvstore.Store
}

// NewDistributedLock creates a lock manager over store.
func NewDistributedLock(store kvstore.Store) *DistributedLock {
	return &DistributedLock{store: store}
}

// Lock is one held lock. Release it on every exit path.
type Lock struct {
	store kvstore.Store
	key   string
	token string
}

// Acquire attempts a set-if-absent on lock:{key} with a random token.
// Returns (nil, false, nil) when another holder has the lock.
func (d *DistributedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.New().String()
	ok, err := d.store.SetIfAbsent(ctx, kvstore.LockKey(key), token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{store: d.store, key: key, token: token}, true, nil
}

// Release deletes the lock only when the stored token still matches this
// holder. A false return means the TTL expired and someone else holds it.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	ok, err := l.store.DeleteIfValue(ctx, kvstore.LockKey(l.key), l.token)
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", l.key, err)
	}
	return ok, nil
}
