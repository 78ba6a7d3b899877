package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/tripnest/edge-gateway/internal/kv"
)

// GlobalLimiter is the strongly consistent variant: a single serialized
// counter per key, for limits that must be exact across every node handling
// traffic concurrently. INCR on the shared store is atomic, so unlike the
// per-identity fixed window there is no read-modify-write race to accept.
type GlobalLimiter struct {
	store   kv.Store
	nowFunc func() time.Time
}

func NewGlobalLimiter(store kv.Store) *GlobalLimiter {
	return &GlobalLimiter{store: store, nowFunc: time.Now}
}

func (g *GlobalLimiter) Allow(ctx context.Context, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:global:%s:%s", action, g.nowFunc().UTC().Truncate(window).Format("2006-01-02T15:04:05"))

	count, err := g.store.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		g.store.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}
