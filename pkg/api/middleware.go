package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arbiter-io/arbiter/pkg/resilience"
)

// Request headers the ingress consumes and echoes.
const (
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderCorrelationID  = "X-Correlation-ID"
)

type tenantIDKey struct{}
type idempotencyKeyKey struct{}
type correlationIDKey struct{}

// TenantID returns the tenant established by RequireTenant, or "".
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey{}).(string)
	return v
}

// IdempotencyKey returns the key established by RequireIdempotencyKey, or "".
func IdempotencyKey(ctx context.Context) string {
	v, _ := ctx.Value(idempotencyKeyKey{}).(string)
	return v
}

// CorrelationID returns the request's correlation id.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey{}).(string)
	return v
}

// WithCorrelationID generates a correlation id when the client sent none
// and echoes it on every response.
func WithCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set(HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, correlationID)))
	})
}

// RequireTenant rejects requests without X-Tenant-ID.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if tenantID == "" {
			WriteBadRequest(w, "Missing required header: X-Tenant-ID")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantIDKey{}, tenantID)))
	})
}

// RequireIdempotencyKey rejects create requests without X-Idempotency-Key.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" {
			WriteBadRequest(w, "Missing required header: X-Idempotency-Key")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), idempotencyKeyKey{}, key)))
	})
}

// WithTenantRateLimit denies requests over the tenant's sliding window.
// Must run after RequireTenant. A nil limiter admits everything.
func WithTenantRateLimit(limiter resilience.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := limiter.Allow(r.Context(), TenantID(r.Context()))
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if !allowed {
			WriteTooManyRequests(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithBulkhead admits requests through the shared bulkhead. Overflow maps
// to 503 with Retry-After semantics left to the client.
func WithBulkhead(bulkhead *resilience.Bulkhead, next http.Handler) http.Handler {
	if bulkhead == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := bulkhead.Execute(r.Context(), func(ctx context.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
		if errors.Is(err, resilience.ErrQueueFull) {
			WriteServiceUnavailable(w, "Server is at capacity. Please retry.")
		}
	})
}

// GlobalRateLimiter manages per-IP token buckets in front of everything
// tenant-scoped.
type GlobalRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter allows rps requests per second per client IP with
// the given burst.
func NewGlobalRateLimiter(rps, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors evicts IPs idle for more than 3 minutes.
func (rl *GlobalRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the per-IP limit.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}
		if !rl.getVisitor(ip).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
