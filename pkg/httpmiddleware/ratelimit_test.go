package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, path, remote string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Budget(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i, want := range []string{"2", "1", "0"} {
		w := hit(h, "/api/cart/U1", "10.0.0.1:1000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(h, "/api/cart/U1", "10.0.0.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(http.StatusTooManyRequests), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])

	// Other clients keep their own budget.
	assert.Equal(t, http.StatusOK, hit(h, "/api/cart/U2", "10.0.0.2:1000").Code)
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		_, _, ok := rl.allow("k", start)
		require.True(t, ok)
	}
	_, _, ok := rl.allow("k", start.Add(30*time.Second))
	assert.False(t, ok)

	// Half way into the next window the previous one still weighs half.
	remaining, _, ok := rl.allow("k", start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	// Two idle windows reset the bucket.
	remaining, _, ok = rl.allow("k", start.Add(5*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 3, remaining)

	rl.evict(start.Add(10 * time.Minute))
	assert.Empty(t, rl.buckets)
}

func TestRateLimit_Skip(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Skip:   SkipPaths("/livez", "/readyz"),
	})(okHandler())

	for range 3 {
		w := hit(h, "/readyz", "10.0.0.1:1000")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusOK, hit(h, "/api/orders", "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/api/orders", "10.0.0.1:1000").Code)
}

func TestRateLimit_APIKeyOrIP(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: APIKeyOrIP("api_key"),
	})(okHandler())

	// Two terminals behind one address with different keys.
	assert.Equal(t, http.StatusOK, hit(h, "/api/orders", "10.0.0.1:1000", "api_key", "till-1").Code)
	assert.Equal(t, http.StatusOK, hit(h, "/api/orders", "10.0.0.1:1000", "api_key", "till-2").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/api/orders", "10.0.0.1:1000", "api_key", "till-1").Code)

	// Keyless requests fall back to the address.
	assert.Equal(t, http.StatusOK, hit(h, "/api/cart/U1", "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/api/cart/U1", "10.0.0.1:2000").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers []string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:4444", want: "192.168.1.1"},
		{name: "remote without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{
			name:    "forwarded for",
			remote:  "192.168.1.1:4444",
			headers: []string{"X-Forwarded-For", "203.0.113.50, 70.41.3.18"},
			want:    "203.0.113.50",
		},
		{
			name:    "real ip",
			remote:  "192.168.1.1:4444",
			headers: []string{"X-Real-IP", "198.51.100.7"},
			want:    "198.51.100.7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for i := 0; i+1 < len(tt.headers); i += 2 {
				req.Header.Set(tt.headers[i], tt.headers[i+1])
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
