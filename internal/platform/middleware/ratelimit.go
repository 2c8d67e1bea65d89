package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limiter decides whether a keyed request may proceed within the window.
type Limiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult carries the outcome plus the response-header fields.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// SlidingWindowLimiter tracks request timestamps per key. A sliding window
// avoids the burst-at-the-boundary problem of fixed buckets. In-process
// only; each replica enforces its own limit.
type SlidingWindowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *SlidingWindowLimiter) Allow(key string) RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	kept := l.buckets[key][:0]
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return RateLimitResult{
			Allowed: false,
			Limit:   l.limit,
			ResetAt: kept[0].Add(l.window),
		}
	}

	kept = append(kept, now)
	l.buckets[key] = kept
	return RateLimitResult{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(kept),
		ResetAt:   kept[0].Add(l.window),
	}
}

// sweep drops keys whose newest entry has left the window, so callers
// that stop sending do not pin map entries forever.
func (l *SlidingWindowLimiter) sweep(cutoff time.Time) {
	for key, times := range l.buckets {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// RateLimit enforces a per-caller request limit. The key is the
// authenticated account when the auth middleware has already run in the
// chain, and the remote address otherwise. Unauthenticated surfaces such as
// the token endpoint therefore limit by address.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetAccountID(r.Context())
			if key == "" {
				key = remoteAddr(r)
			}

			result := limiter.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","error_description":"Too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
