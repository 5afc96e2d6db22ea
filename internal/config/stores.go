package config

// StoresConfig configures the index and cache backends.
type StoresConfig struct {
	// Redis (embedding cache, answer cache, conversation store)
	RedisURL string `yaml:"redis_url"`

	// Qdrant (dense vector index)
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`
	QdrantUseTLS     bool   `yaml:"qdrant_use_tls"`
	QdrantCollection string `yaml:"qdrant_collection"`

	// OpenSearch (lexical BM25 index)
	OpenSearchURL      string `yaml:"opensearch_url"`
	OpenSearchUsername string `yaml:"opensearch_username"`
	OpenSearchPassword string `yaml:"opensearch_password"`
	IndexPrefix        string `yaml:"index_prefix"`
}

// DefaultStoresConfig returns the default store configuration.
func DefaultStoresConfig() StoresConfig {
	return StoresConfig{
		RedisURL:         "redis://localhost:6379/0",
		QdrantHost:       "localhost",
		QdrantPort:       6334,
		QdrantCollection: "dealership",
		OpenSearchURL:    "http://localhost:9200",
		IndexPrefix:      "dealership",
	}
}
