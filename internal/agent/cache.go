package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const answerKeyPrefix = "query:"

// AnswerCache memoizes full query responses in Redis. Keyed on the
// sanitized query plus namespace so identical questions in different
// domains never collide. A nil cache is a no-op.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnswerCache wires the response cache. client may be nil.
func NewAnswerCache(client *redis.Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{client: client, ttl: ttl}
}

func answerKey(query, namespace string) string {
	sum := sha256.Sum256([]byte(namespace + ":" + query))
	return answerKeyPrefix + hex.EncodeToString(sum[:])[:64]
}

// Get returns a cached response, or nil on miss.
func (c *AnswerCache) Get(ctx context.Context, query, namespace string) *types.QueryResponse {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, answerKey(query, namespace)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.SessionDebug("answer cache get: %v", err)
		}
		return nil
	}
	var resp types.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.client.Del(ctx, answerKey(query, namespace))
		return nil
	}
	return &resp
}

// Set stores a response, best effort.
func (c *AnswerCache) Set(ctx context.Context, query, namespace string, resp *types.QueryResponse) {
	if c == nil || c.client == nil || resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, answerKey(query, namespace), data, c.ttl).Err(); err != nil {
		logging.SessionDebug("answer cache set: %v", err)
	}
}
