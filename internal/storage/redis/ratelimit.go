package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xenking/vetclinic-pos/pkg/httpmiddleware"
)

const rateLimitPrefix = "rl"

// RateCounter keeps fixed-window request counters in Redis so that every
// instance behind the load balancer shares one budget per caller.
type RateCounter struct {
	client *Client
}

// NewRateCounter creates a RateCounter.
func NewRateCounter(client *Client) *RateCounter {
	return &RateCounter{client: client}
}

var _ httpmiddleware.Counter = (*RateCounter)(nil)

// Incr counts one request for key. The window starts with the first request
// and the returned duration is the time left in it.
func (r *RateCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := Key(rateLimitPrefix, key)
	count, err := r.client.store.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := r.client.store.Expire(ctx, k, window).Err(); err != nil {
			return count, window, fmt.Errorf("expire rate counter: %w", err)
		}
		return count, window, nil
	}

	ttl, err := r.client.store.PTTL(ctx, k).Result()
	if err != nil {
		return count, window, fmt.Errorf("read rate counter ttl: %w", err)
	}
	if ttl < 0 {
		// The expiry was lost; restart the window.
		if err := r.client.store.Expire(ctx, k, window).Err(); err != nil {
			return count, window, fmt.Errorf("expire rate counter: %w", err)
		}
		ttl = window
	}
	return count, ttl, nil
}
