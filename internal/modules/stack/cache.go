package stack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ResultCache caches allocation results keyed by a request fingerprint.
// The allocator is deterministic, so identical inputs always map to the
// identical stack and cached results never go stale.
type ResultCache interface {
	Get(ctx context.Context, key string) (*CapitalStack, bool)
	Set(ctx context.Context, key string, stack *CapitalStack) error
}

// CacheKey computes a deterministic fingerprint for an allocation request.
func CacheKey(project Project, options []CapitalOption, granularity float64) string {
	payload := struct {
		Project     Project         `json:"project"`
		Options     []CapitalOption `json:"options"`
		Granularity float64         `json:"granularity"`
	}{project, options, granularity}

	// Marshal cannot fail for these plain value types
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return "capstack:optimize:" + hex.EncodeToString(sum[:])
}

// RedisCache is a ResultCache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisCache creates a Redis-backed result cache.
func NewRedisCache(addr string, ttl time.Duration, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		log:    log.With().Str("component", "result_cache").Logger(),
	}
}

// Get returns the cached stack for key, if present.
func (c *RedisCache) Get(ctx context.Context, key string) (*CapitalStack, bool) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("Cache read failed")
		}
		return nil, false
	}

	var stack CapitalStack
	if err := json.Unmarshal([]byte(raw), &stack); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		return nil, false
	}
	return &stack, true
}

// Set stores a stack under key with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key string, stack *CapitalStack) error {
	raw, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, string(raw), c.ttl).Err()
}

// Ping checks Redis connectivity, for the diagnostics endpoint.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
