package config

import (
	"fmt"
	"math"
	"time"
)

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	// Default and maximum number of results returned to callers
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`

	// Candidate pool fetched from each index before fusion
	TopKRetrieval int `yaml:"top_k_retrieval"`

	// Reciprocal rank fusion
	RRFK          int     `yaml:"rrf_k"`
	VectorWeight  float64 `yaml:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`

	// Re-ranking
	RerankEnabled  bool   `yaml:"rerank_enabled"`
	RerankTopN     int    `yaml:"rerank_top_n"`
	RerankMaxChars int    `yaml:"rerank_max_chars"`
	RerankTimeout  string `yaml:"rerank_timeout"`

	// Conversation and answer caching
	ConversationTTL string `yaml:"conversation_ttl"`
	AnswerCacheTTL  string `yaml:"answer_cache_ttl"`
	HistoryStored   int    `yaml:"history_stored"`
	HistoryInPrompt int    `yaml:"history_in_prompt"`
}

// DefaultRetrievalConfig returns the default retrieval configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		DefaultTopK:     5,
		MaxTopK:         50,
		TopKRetrieval:   20,
		RRFK:            60,
		VectorWeight:    0.6,
		KeywordWeight:   0.4,
		RerankEnabled:   true,
		RerankTopN:      20,
		RerankMaxChars:  2000,
		RerankTimeout:   "30s",
		ConversationTTL: "1h",
		AnswerCacheTTL:  "1h",
		HistoryStored:   10,
		HistoryInPrompt: 5,
	}
}

// Validate checks the fusion weights and limits.
func (c *RetrievalConfig) Validate() error {
	if c.DefaultTopK < 1 || c.DefaultTopK > c.MaxTopK {
		return fmt.Errorf("default_top_k must be in [1, %d], got %d", c.MaxTopK, c.DefaultTopK)
	}
	if math.Abs(c.VectorWeight+c.KeywordWeight-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.4f", c.VectorWeight+c.KeywordWeight)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.RRFK)
	}
	return nil
}

// GetRerankTimeout returns the rerank timeout as a duration.
func (c *RetrievalConfig) GetRerankTimeout() time.Duration {
	return parseDuration(c.RerankTimeout, 30*time.Second)
}

// GetConversationTTL returns the conversation TTL as a duration.
func (c *RetrievalConfig) GetConversationTTL() time.Duration {
	return parseDuration(c.ConversationTTL, time.Hour)
}

// GetAnswerCacheTTL returns the answer cache TTL as a duration.
func (c *RetrievalConfig) GetAnswerCacheTTL() time.Duration {
	return parseDuration(c.AnswerCacheTTL, time.Hour)
}
