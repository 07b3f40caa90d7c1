package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter hands out one token bucket per key. Buckets idle for longer
// than ttl are pruned on the next Allow.
type keyedRateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	clock func() time.Time
	mu    sync.Mutex
	store map[string]*rateEntry
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows burst requests per key, refilled evenly across window.
func newRateLimiter(burst int, window time.Duration, clock func() time.Time) rateLimiter {
	if burst <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit: rate.Every(window / time.Duration(burst)),
		burst: burst,
		ttl:   window,
		clock: clock,
		store: make(map[string]*rateEntry),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok {
		l.pruneExpiredLocked(now)
		entry = &rateEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) > l.ttl {
			delete(l.store, key)
		}
	}
}

// limitByClient rejects requests with 429 once the caller's bucket is empty.
// Callers are keyed by cart session, falling back to the remote address.
func limitByClient(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestctx.CartSession(r.Context())
			if key == "" {
				key = remoteHost(r.RemoteAddr)
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "60")
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many payment attempts, try again shortly", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
