package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dealerrag/internal/logging"
)

// Cache key layout: embedding:v1:<first 32 hex chars of sha256(model:text)>.
// The v1 segment leaves room to invalidate everything if the encoding
// changes.
const cacheKeyPrefix = "embedding:v1:"

// Cache stores embeddings in Redis with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates an embedding cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// CacheKey derives the Redis key for a (model, text) pair.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])[:32]
}

// Get returns the cached vector, or nil on miss or error. Cache errors
// are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, model, text string) []float32 {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, CacheKey(model, text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.EmbeddingWarn("cache get failed: %v", err)
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		logging.EmbeddingWarn("cache entry corrupt, dropping: %v", err)
		c.client.Del(ctx, CacheKey(model, text))
		return nil
	}
	return vec
}

// Set stores a vector. Errors are logged, never returned: caching is
// best-effort.
func (c *Cache) Set(ctx context.Context, model, text string, vec []float32) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, CacheKey(model, text), data, c.ttl).Err(); err != nil {
		logging.EmbeddingWarn("cache set failed: %v", err)
	}
}

// Health pings Redis.
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("embedding cache not configured")
	}
	return c.client.Ping(ctx).Err()
}
