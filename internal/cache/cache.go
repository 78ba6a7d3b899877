package cache

import (
	"context"
	"log"
	"time"

	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/models"
)

// Values above this size skip the hot tier and live only in the durable tier.
const hotMaxBytes = 25 << 20

// Source identifies which tier served a Get. Surfaced to clients via the
// X-Cache response header.
type Source string

const (
	SourceHot  Source = "HIT"
	SourceCold Source = "DB-HIT"
	SourceMiss Source = "MISS"
)

// ColdStore is the durable tier behind the hot key-value cache.
type ColdStore interface {
	GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, key, data string, expiresAt time.Time) error
	DeleteCacheByPrefix(ctx context.Context, prefix string) error
	BumpCacheStat(ctx context.Context, operation, lastKey string) error
	UpsertHotelSummary(ctx context.Context, hotel *models.HotelSummary) error
}

// Cache is the two-tier response cache. Every operation degrades on storage
// failure: reads become misses, writes are dropped. Nothing in the dispatch
// path depends on the cache for correctness.
type Cache struct {
	hot     kv.Store
	cold    ColdStore
	nowFunc func() time.Time
}

func New(hot kv.Store, cold ColdStore) *Cache {
	return &Cache{hot: hot, cold: cold, nowFunc: time.Now}
}

// Get checks the hot tier, then the durable tier. A durable hit is promoted
// into the hot tier with the remaining lifetime before being returned.
func (c *Cache) Get(ctx context.Context, key string) (string, Source) {
	value, found, err := c.hot.Get(ctx, hotKey(key))
	if err != nil {
		log.Printf("cache: hot get failed for %s: %v", key, err)
	} else if found {
		return value, SourceHot
	}

	entry, err := c.cold.GetCacheEntry(ctx, key)
	if err != nil {
		log.Printf("cache: cold get failed for %s: %v", key, err)
		return "", SourceMiss
	}
	if entry == nil {
		return "", SourceMiss
	}

	remaining := entry.ExpiresAt.Sub(c.nowFunc())
	if remaining <= 0 {
		return "", SourceMiss
	}

	if len(entry.Data) < hotMaxBytes {
		if err := c.hot.Set(ctx, hotKey(key), entry.Data, remaining); err != nil {
			log.Printf("cache: promotion failed for %s: %v", key, err)
		}
	}

	return entry.Data, SourceCold
}

// Set writes to the hot tier when the payload fits, and always to the
// durable tier.
func (c *Cache) Set(ctx context.Context, key, payload string, ttl time.Duration) {
	if len(payload) < hotMaxBytes {
		if err := c.hot.Set(ctx, hotKey(key), payload, ttl); err != nil {
			log.Printf("cache: hot set failed for %s: %v", key, err)
		}
	}

	expiresAt := c.nowFunc().Add(ttl)
	if err := c.cold.UpsertCacheEntry(ctx, key, payload, expiresAt); err != nil {
		log.Printf("cache: cold set failed for %s: %v", key, err)
	}

	c.bumpStat(ctx, "set", key)
}

// Invalidate deletes every entry under the prefix in both tiers. Driven by
// domain events, e.g. a hotel's data changing.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	keys, err := c.hot.Keys(ctx, hotKey(prefix)+"*")
	if err != nil {
		log.Printf("cache: hot key scan failed for %s: %v", prefix, err)
	} else if len(keys) > 0 {
		if err := c.hot.Del(ctx, keys...); err != nil {
			log.Printf("cache: hot delete failed for %s: %v", prefix, err)
		}
	}

	if err := c.cold.DeleteCacheByPrefix(ctx, prefix); err != nil {
		log.Printf("cache: cold delete failed for %s: %v", prefix, err)
	}

	c.bumpStat(ctx, "invalidate", prefix)
}

func (c *Cache) bumpStat(ctx context.Context, operation, key string) {
	if err := c.cold.BumpCacheStat(ctx, operation, key); err != nil {
		log.Printf("cache: stat bump failed for %s: %v", operation, err)
	}
}

func hotKey(key string) string {
	return "cache:" + key
}
