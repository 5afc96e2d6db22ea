package config

import "time"

// LLMConfig configures the chat, embedding and rerank model clients.
type LLMConfig struct {
	// Chat model (answer synthesis, intent classification)
	ChatModel   string `yaml:"chat_model"`
	ChatAPIKey  string `yaml:"chat_api_key"`
	ChatTimeout string `yaml:"chat_timeout"`

	// Embedding model (OpenAI-compatible endpoint)
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingBaseURL   string `yaml:"embedding_base_url"`
	EmbeddingAPIKey    string `yaml:"embedding_api_key"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
	EmbeddingCacheTTL  string `yaml:"embedding_cache_ttl"`

	// Optional rerank endpoint (Cohere-compatible). Empty URL disables
	// re-ranking and the fused order is returned as-is.
	RerankURL    string `yaml:"rerank_url"`
	RerankModel  string `yaml:"rerank_model"`
	RerankAPIKey string `yaml:"rerank_api_key"`
}

// DefaultLLMConfig returns the default LLM configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		ChatModel:   "claude-sonnet-4-20250514",
		ChatTimeout: "30s",

		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingBaseURL:   "https://api.openai.com/v1",
		EmbeddingDimension: 1536,
		EmbeddingBatchSize: 128,
		EmbeddingCacheTTL:  "24h",

		RerankModel: "rerank-english-v3.0",
	}
}

// GetChatTimeout returns the chat timeout as a duration.
func (c *LLMConfig) GetChatTimeout() time.Duration {
	return parseDuration(c.ChatTimeout, 30*time.Second)
}

// GetEmbeddingCacheTTL returns the embedding cache TTL as a duration.
func (c *LLMConfig) GetEmbeddingCacheTTL() time.Duration {
	return parseDuration(c.EmbeddingCacheTTL, 24*time.Hour)
}
