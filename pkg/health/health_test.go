package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func observe(p *probe, n int) {
	for range n {
		p.observe(context.Background())
	}
}

func call(t *testing.T, endpoint http.HandlerFunc) (int, probeResponse) {
	t.Helper()

	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body probeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		want     int
		checks   map[string]string
	}{
		{name: "untested checks are healthy", failures: 0, want: http.StatusOK},
		{name: "below threshold", failures: failureThreshold - 1, want: http.StatusOK},
		{
			name:     "at threshold",
			failures: failureThreshold,
			want:     http.StatusServiceUnavailable,
			checks:   map[string]string{"postgres": "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("goroutines", time.Second, pass)
			h.AddLivenessCheck("postgres", time.Second, fail("connection refused"))
			observe(h.live[1], tt.failures)

			code, body := call(t, h.LiveEndpoint)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.checks, body.Checks)
			if tt.want == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("redis", time.Second, pass)
	h.AddReadinessCheck("postgres", time.Second, fail("timeout"))

	code, body := call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, body.Checks)

	h.SetReady(true)
	code, _ = call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	observe(h.ready[1], failureThreshold)
	code, body = call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"postgres": "timeout"}, body.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, body = call(t, h.ReadyEndpoint)
	assert.Len(t, body.Checks, 2)
}

func TestProbe_Recovers(t *testing.T) {
	down := true
	p := newProbe("sweeper", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	assert.Nil(t, p.err())

	observe(p, failureThreshold)
	assert.False(t, p.healthy.Load())
	assert.EqualError(t, p.err(), "down")

	down = false
	observe(p, successThreshold)
	assert.True(t, p.healthy.Load())
	assert.NoError(t, p.err())
}

func TestProbe_Timeout(t *testing.T) {
	p := newProbe("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	observe(p, 1)
	assert.ErrorIs(t, p.err(), context.DeadlineExceeded)
}

func TestHealth_StartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, fail("err"))
	h.AddReadinessCheck("ready", time.Second, pass)
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		code, _ := call(t, h.LiveEndpoint)
		return code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	h.Stop()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	recent := func() time.Time { return time.Now().Add(-time.Second) }
	stale := func() time.Time { return time.Now().Add(-time.Hour) }
	assert.NoError(t, HeartbeatCheck(recent, time.Minute)(ctx))
	assert.ErrorContains(t, HeartbeatCheck(stale, time.Minute)(ctx), "last heartbeat")

	assert.NoError(t, PingCheck("postgres", PingFunc(pass))(ctx))
	err := PingCheck("redis", PingFunc(fail("connection refused")))(ctx)
	assert.ErrorContains(t, err, "ping redis")
	assert.ErrorContains(t, err, "connection refused")
}
