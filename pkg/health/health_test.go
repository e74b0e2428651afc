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

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serve(t *testing.T, endpoint http.HandlerFunc) (int, report) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

// switchable is a check whose result the test controls.
type switchable struct {
	mu  sync.Mutex
	err error
}

func (s *switchable) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *switchable) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func drive(h *Health, name string, times int) {
	for _, c := range h.checks {
		if c.Name == name {
			for range times {
				c.run(context.Background())
			}
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	db := &switchable{}
	h.AddLivenessCheck("db", time.Second, PingCheck(db))

	code, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)

	db.set(errors.New("connection refused"))
	drive(h, "db", 2)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below failure threshold")

	drive(h, "db", 1)
	code, body = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ping: connection refused", body.Checks["db"])

	db.set(nil)
	drive(h, "db", 1)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		ready   bool
		failing []string
		code    int
		checks  []string
	}{
		{name: "ready and passing", ready: true, code: http.StatusOK},
		{name: "not ready", code: http.StatusServiceUnavailable, checks: []string{"_readiness"}},
		{name: "one check failing", ready: true, failing: []string{"redis"}, code: http.StatusServiceUnavailable, checks: []string{"redis"}},
		{name: "draining with failures", failing: []string{"postgres", "redis"}, code: http.StatusServiceUnavailable, checks: []string{"_readiness", "postgres", "redis"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddReadinessCheck("postgres", time.Second, PingCheck(&switchable{}))
			h.AddReadinessCheck("redis", time.Second, PingCheck(&switchable{}))
			for _, c := range h.checks {
				for _, name := range tt.failing {
					if c.Name == name {
						c.Run = func(context.Context) error { return errors.New("down") }
					}
				}
			}
			drive(h, "postgres", 3)
			drive(h, "redis", 3)
			h.SetReady(tt.ready)

			code, body := serve(t, h.ReadyEndpoint)
			assert.Equal(t, tt.code, code)
			assert.Len(t, body.Checks, len(tt.checks))
			for _, name := range tt.checks {
				assert.Contains(t, body.Checks, name)
			}
			assert.Equal(t, tt.code == http.StatusOK, h.IsReady())
		})
	}
}

func TestEndpointsAreSeparate(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, func(context.Context) error { return errors.New("leak") })
	h.SetReady(true)
	drive(h, "goroutines", 3)

	code, _ := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCustomThresholds(t *testing.T) {
	h := New()
	dep := &switchable{err: errors.New("down")}
	h.Add(Readiness, Check{Name: "backend", Run: PingCheck(dep), FailAfter: 1, RecoverAfter: 2})
	h.SetReady(true)

	drive(h, "backend", 1)
	assert.False(t, h.IsReady())

	dep.set(nil)
	drive(h, "backend", 1)
	assert.False(t, h.IsReady())
	drive(h, "backend", 1)
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Readiness, Check{
		Name:      "slow",
		Timeout:   10 * time.Millisecond,
		FailAfter: 1,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h.SetReady(true)
	drive(h, "slow", 1)

	_, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["slow"])
}

func TestStartAndStop(t *testing.T) {
	h := New()
	var (
		mu    sync.Mutex
		calls int
	)
	h.AddReadinessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()

	mu.Lock()
	stopped := calls
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, calls, stopped+1)
	mu.Unlock()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
