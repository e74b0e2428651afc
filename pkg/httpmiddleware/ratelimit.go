package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Counter counts requests per key in fixed windows. Incr returns the count
// including this request and the time left in the current window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig configures the fixed window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyHeader, when set, limits callers presenting that header by a hash
	// of its value instead of by IP.
	KeyHeader string
	// KeyFunc overrides the key derivation entirely.
	KeyFunc func(*http.Request) string
}

func (cfg RateLimitConfig) key(r *http.Request) string {
	if cfg.KeyFunc != nil {
		return cfg.KeyFunc(r)
	}
	if cfg.KeyHeader != "" {
		if v := r.Header.Get(cfg.KeyHeader); v != "" {
			sum := sha256.Sum256([]byte(v))
			return "key:" + hex.EncodeToString(sum[:8])
		}
	}
	return "ip:" + ClientIP(r)
}

// RateLimit rejects callers that exceed cfg.Max requests per cfg.Window with
// 429 and a Retry-After header. Counter failures let the request through.
func RateLimit(cfg RateLimitConfig, counter Counter) Middleware {
	return func(next http.Handler) http.Handler {
		if cfg.Max <= 0 || cfg.Window <= 0 || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.key(r)
			count, left, err := counter.Incr(r.Context(), key, cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := cfg.Max - int(count)
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(left).Unix(), 10))

			if count > int64(cfg.Max) {
				zctx.From(r.Context()).Warn("Rate limit exceeded",
					zap.String("key", key),
					zap.Int64("count", count),
				)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(left.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the
// connection's host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes the {"code","message"} body used by the API handlers.
func writeError(w http.ResponseWriter, code int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

type window struct {
	count int64
	ends  time.Time
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*window), now: time.Now}
}

var _ Counter = (*MemoryCounter)(nil)

// Incr implements Counter.
func (c *MemoryCounter) Incr(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	win, ok := c.windows[key]
	if !ok || !now.Before(win.ends) {
		win = &window{ends: now.Add(length)}
		c.windows[key] = win
	}
	win.count++
	return win.count, win.ends.Sub(now), nil
}

// Evict drops windows that have ended.
func (c *MemoryCounter) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, win := range c.windows {
		if !now.Before(win.ends) {
			delete(c.windows, key)
		}
	}
}

// EvictEvery runs Evict every interval until ctx is done.
func (c *MemoryCounter) EvictEvery(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Evict()
			}
		}
	}()
}
