package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

const guardPrefix = "guard"

// Guard marks keys once with SETNX so that concurrent callers agree on a
// single winner.
type Guard struct {
	client *Client
	ttl    time.Duration
	scope  string
}

// NewGuard creates a guard whose marks expire after ttl.
func NewGuard(client *Client, ttl time.Duration, scope string) (*Guard, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &Guard{client: client, ttl: ttl, scope: scope}, nil
}

func (g *Guard) key(id string) string {
	return Key(guardPrefix, g.scope, id)
}

// CheckAndMark marks id and reports whether it was unmarked before.
func (g *Guard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("guard id is required")
	}
	set, err := g.client.store.SetNX(ctx, g.key(id), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set guard key: %w", err)
	}
	return set, nil
}

// Delete removes the mark of id.
func (g *Guard) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("guard id is required")
	}
	if err := g.client.store.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("delete guard key: %w", err)
	}
	return nil
}
