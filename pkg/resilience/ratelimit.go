package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiter-io/arbiter/pkg/kvstore"
)

// Limiter is the per-tenant admission check. Allow reports whether this
// request fits the tenant's window.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// SlidingWindowLimiter keeps per-tenant timestamp windows in process
// memory. Each check appends now, evicts entries older than the window,
// and denies when the window holds more than the limit.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewSlidingWindowLimiter allows requestsPerWindow requests per tenant in
// any trailing window.
func NewSlidingWindowLimiter(requestsPerWindow int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows: make(map[string][]time.Time),
		limit:   requestsPerWindow,
		window:  window,
		now:     time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (l *SlidingWindowLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.windows[tenantID][:0]
	for _, ts := range l.windows[tenantID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	l.windows[tenantID] = kept

	return len(kept) <= l.limit, nil
}

// slidingWindowScript appends the request, evicts stale entries and counts
// the window atomically. KEYS[1] = window key, ARGV[1] = now (micros),
// ARGV[2] = window (micros), ARGV[3] = limit, ARGV[4] = ttl seconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
redis.call("ZADD", key, now, now .. "-" .. redis.call("INCR", key .. ":seq"))
redis.call("EXPIRE", key, ttl)
redis.call("EXPIRE", key .. ":seq", ttl)

local count = redis.call("ZCARD", key)
if count > limit then
    return 0
end
return 1
`)

// RedisSlidingWindowLimiter shares one window per tenant across processes
// using a sorted set keyed rate:tenant:{tenant}.
type RedisSlidingWindowLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

// NewRedisSlidingWindowLimiter creates a limiter over client.
func NewRedisSlidingWindowLimiter(client redis.UniversalClient, requestsPerWindow int, window time.Duration) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{client: client, limit: requestsPerWindow, window: window}
}

func (l *RedisSlidingWindowLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := kvstore.RateKey(tenantID)
	ttl := int64(l.window/time.Second) + 1
	res, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		time.Now().UnixMicro(), l.window.Microseconds(), l.limit, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %q: %w", tenantID, err)
	}
	return res == 1, nil
}
