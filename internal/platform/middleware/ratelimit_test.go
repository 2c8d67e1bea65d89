package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(3, time.Minute)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		result := limiter.Allow("caller-a")
		require.True(t, result.Allowed, "request %d should pass", i)
	}
	result := limiter.Allow("caller-a")
	assert.False(t, result.Allowed)
	assert.Equal(t, 3, result.Limit)

	// Another key has its own budget.
	assert.True(t, limiter.Allow("caller-b").Allowed)

	// Old timestamps fall out of the window.
	now = now.Add(61 * time.Second)
	assert.True(t, limiter.Allow("caller-a").Allowed)
}

func TestSlidingWindowLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(3, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.Allow("caller-a")
	limiter.Allow("caller-b")
	require.Len(t, limiter.buckets, 2)

	// Callers that went quiet are dropped once their entries age out, so
	// churning addresses cannot grow the map without bound.
	now = now.Add(2 * time.Minute)
	limiter.Allow("caller-c")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.buckets, 1)
	_, ok := limiter.buckets["caller-c"]
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewSlidingWindowLimiter(1, time.Minute)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/claims/x/report", nil)
	req.RemoteAddr = "10.0.0.7:41234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different caller is not affected.
	other := httptest.NewRequest(http.MethodGet, "/v1/claims/x/report", nil)
	other.RemoteAddr = "10.0.0.8:41234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}
