package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"dealerrag/internal/breaker"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const (
	// Single embeds reject texts beyond this; batch embeds truncate
	maxTextChars = 32000

	defaultBatchSize = 128
	maxRetries       = 3

	singleTimeout = 30 * time.Second
	batchTimeout  = 60 * time.Second
)

// Config configures the embedding client.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	BatchSize int
}

// Client is the OpenAI-compatible embedding client with Redis caching and
// circuit breaking. Implements Embedder.
type Client struct {
	api       openai.Client
	model     string
	dimension int
	batchSize int
	cache     *Cache
	breaker   *breaker.Breaker

	mu          sync.Mutex
	generations int64
	apiCalls    int64
	apiErrors   int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewClient creates an embedding client. cache and brk may be nil.
func NewClient(cfg Config, cache *Cache, brk *breaker.Breaker) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Client{
		api:       openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		cache:     cache,
		breaker:   brk,
	}
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.model }

// Dimensions returns the embedding dimension.
func (c *Client) Dimensions() int { return c.dimension }

// Embed generates an embedding for a single text, consulting the cache
// first. Empty or oversize input is rejected; batch callers get
// truncation instead because one bad chunk must not sink the pipeline.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &types.ValidationError{Field: "text", Message: "cannot be empty"}
	}
	if len(text) > maxTextChars {
		return nil, &types.ValidationError{Field: "text",
			Message: fmt.Sprintf("exceeds %d characters", maxTextChars)}
	}

	if vec := c.cache.Get(ctx, c.model, text); vec != nil {
		c.cacheHits.Add(1)
		return vec, nil
	}
	c.cacheMisses.Add(1)

	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	vecs, err := c.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	c.checkDimension(vec)
	c.cache.Set(ctx, c.model, text, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for texts in API batches. A failed
// batch contributes zero vectors rather than failing the whole call, so
// the result is always aligned with the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	pending := make([]int, 0, len(texts))
	pendingTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		t = c.truncate(t)
		texts[i] = t
		if vec := c.cache.Get(ctx, c.model, t); vec != nil {
			c.cacheHits.Add(1)
			out[i] = vec
			continue
		}
		c.cacheMisses.Add(1)
		pending = append(pending, i)
		pendingTexts = append(pendingTexts, t)
	}

	for start := 0; start < len(pending); start += c.batchSize {
		end := start + c.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
		vecs, err := c.callAPI(batchCtx, pendingTexts[start:end])
		cancel()

		if err != nil {
			logging.EmbeddingWarn("batch %d-%d failed, filling zero vectors: %v", start, end, err)
			for _, idx := range pending[start:end] {
				out[idx] = make([]float32, c.dimension)
			}
			continue
		}

		for j, idx := range pending[start:end] {
			c.checkDimension(vecs[j])
			out[idx] = vecs[j]
			c.cache.Set(ctx, c.model, texts[idx], vecs[j])
		}
	}

	return out, nil
}

// callAPI performs one embeddings request with retries under the breaker.
func (c *Client) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		call := func() error {
			timer := logging.StartTimer(logging.CategoryEmbedding, fmt.Sprintf("embed batch of %d", len(texts)))
			defer timer.Stop()

			c.mu.Lock()
			c.apiCalls++
			c.mu.Unlock()

			resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Model: openai.EmbeddingModel(c.model),
				Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			})
			if err != nil {
				c.mu.Lock()
				c.apiErrors++
				c.mu.Unlock()
				return err
			}
			if len(resp.Data) != len(texts) {
				c.mu.Lock()
				c.apiErrors++
				c.mu.Unlock()
				return fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
			}

			vecs = make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				vec := make([]float32, len(d.Embedding))
				for j, v := range d.Embedding {
					vec[j] = float32(v)
				}
				vecs[i] = vec
			}

			c.mu.Lock()
			c.generations += int64(len(texts))
			c.mu.Unlock()
			return nil
		}

		var err error
		if c.breaker != nil {
			err = c.breaker.Do(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		// An open circuit will not heal within the retry budget
		if ctx.Err() != nil || errors.Is(err, breaker.ErrCircuitOpen) {
			break
		}
	}

	return nil, fmt.Errorf("embedding request failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) truncate(text string) string {
	if len(text) > maxTextChars {
		logging.EmbeddingWarn("text truncated from %d to %d chars", len(text), maxTextChars)
		return text[:maxTextChars]
	}
	return text
}

func (c *Client) checkDimension(vec []float32) {
	if c.dimension > 0 && len(vec) != c.dimension {
		logging.EmbeddingWarn("dimension mismatch: got %d, expected %d", len(vec), c.dimension)
	}
}

// Health embeds a short probe string.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.callAPI(ctx, []string{"health check"})
	return err
}

// Stats returns usage counters with derived rates.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.cacheHits.Load()
	misses := c.cacheMisses.Load()
	s := Stats{
		Generations: c.generations,
		APICalls:    c.apiCalls,
		APIErrors:   c.apiErrors,
		CacheHits:   hits,
		CacheMisses: misses,
	}
	if hits+misses > 0 {
		s.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	if c.apiCalls > 0 {
		s.ErrorRate = float64(c.apiErrors) / float64(c.apiCalls)
	}
	return s
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
