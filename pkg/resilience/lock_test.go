package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/kvstore"
	"github.com/arbiter-io/arbiter/pkg/resilience"
)

func TestDistributedLock_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	locks := resilience.NewDistributedLock(kvstore.NewMemoryStore())

	held, ok, err := locks.Acquire(ctx, "workflow:e1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locks.Acquire(ctx, "workflow:e1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	released, err := held.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	_, ok, err = locks.Acquire(ctx, "workflow:e1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released lock must be acquirable")
}

func TestDistributedLock_StaleHolderCannotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	locks := resilience.NewDistributedLock(store)

	stale, ok, err := locks.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL expires; a new holder takes the lock.
	now = now.Add(100 * time.Millisecond)
	fresh, ok, err := locks.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := stale.Release(ctx)
	require.NoError(t, err)
	assert.False(t, released, "stale holder must not release the new owner's lock")

	released, err = fresh.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestDistributedLock_OverRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := kvstore.NewRedisStoreAddr(mr.Addr(), time.Second)
	locks := resilience.NewDistributedLock(store)

	held, ok, err := locks.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locks.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := held.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)
}
