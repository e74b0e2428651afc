// Package health serves liveness and readiness endpoints backed by periodic
// dependency checks.
//
// A check flips to failing only after FailAfter consecutive errors and back
// to passing after RecoverAfter consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc reports nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Endpoint selects which endpoint a check contributes to.
type Endpoint int

const (
	// Liveness checks gate /livez.
	Liveness Endpoint = iota
	// Readiness checks gate /readyz.
	Readiness
)

func (p Endpoint) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes one registered dependency check.
type Check struct {
	Name    string
	Timeout time.Duration
	Run     CheckFunc
	// FailAfter defaults to 3, RecoverAfter to 1.
	FailAfter    int
	RecoverAfter int
}

type check struct {
	Check
	endpoint Endpoint

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the single goroutine driving run.
	fails, oks int
}

func (c *check) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	err := c.Run(runCtx)
	cancel()

	if err == nil {
		c.fails = 0
		c.oks++
		c.lastErr.Store(nil)
		if c.oks >= c.RecoverAfter && !c.passing.Swap(true) {
			zctx.From(ctx).Info("Health check recovered",
				zap.String("check", c.Name),
				zap.Stringer("endpoint", c.endpoint),
			)
		}
		return
	}

	msg := err.Error()
	c.lastErr.Store(&msg)
	c.oks = 0
	c.fails++
	if c.fails >= c.FailAfter && c.passing.Swap(false) {
		zctx.From(ctx).Warn("Health check failing",
			zap.String("check", c.Name),
			zap.Stringer("endpoint", c.endpoint),
			zap.Error(err),
		)
	}
}

func (c *check) failure() (string, bool) {
	if c.passing.Load() {
		return "", false
	}
	if msg := c.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is failing", true
}

// Health tracks registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers c under endpoint. Checks start passing.
func (h *Health) Add(endpoint Endpoint, c Check) {
	if c.FailAfter <= 0 {
		c.FailAfter = 3
	}
	if c.RecoverAfter <= 0 {
		c.RecoverAfter = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	entry := &check{Check: c, endpoint: endpoint}
	entry.passing.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, entry)
	h.mu.Unlock()
}

// AddLivenessCheck registers a liveness check with default thresholds.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Liveness, Check{Name: name, Timeout: timeout, Run: fn})
}

// AddReadinessCheck registers a readiness check with default thresholds.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Readiness, Check{Name: name, Timeout: timeout, Run: fn})
}

// Start runs every registered check immediately and then once per interval
// until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the background checks. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch; it is turned off while
// draining on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(endpoint Endpoint) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.endpoint != endpoint {
			continue
		}
		if msg, failing := c.failure(); failing {
			out[c.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeReport(w, failures)
}

// writeReport answers 200 {"status":"ok"} or 503 with the failing checks.
func writeReport(w http.ResponseWriter, failures map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failures) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
