// Package redis holds the Redis-backed helpers of the service.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const keyNamespace = "vetpos"

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	PTTL(context.Context, string) *redis.DurationCmd
}

// Config configures the Redis connection.
type Config struct {
	URL          string        `usage:"Redis URL (VETPOS_REDIS_URL or REDIS_URL)"`
	PoolSize     int           `default:"10" usage:"Redis connection pool size"`
	DialTimeout  time.Duration `default:"2s" usage:"Redis dial timeout"`
	ReadTimeout  time.Duration `default:"1s" usage:"Redis read timeout"`
	WriteTimeout time.Duration `default:"1s" usage:"Redis write timeout"`
}

// Client wraps the Redis commands used by the service.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{store: raw, raw: raw}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// Key returns a namespaced key.
func Key(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}
