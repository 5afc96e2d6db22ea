// Package embedding provides dense vector generation for documents and
// queries. The default client speaks the OpenAI embeddings API through a
// configurable base URL and caches results in Redis keyed by a content
// hash, so re-embedding identical text is free.
package embedding

import "context"

// Embedder generates dense vectors for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result
	// always has one vector per input; texts in a failed batch get
	// zero vectors so positional alignment with the inputs is never
	// broken.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// Name returns the model identifier.
	Name() string
}

// Stats reports cache and API usage for the embedding client.
type Stats struct {
	Generations  int64   `json:"total_embeddings_generated"`
	APICalls     int64   `json:"api_calls"`
	APIErrors    int64   `json:"api_errors"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	ErrorRate    float64 `json:"error_rate"`
}
