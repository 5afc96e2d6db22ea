package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dealerrag configuration.
type Config struct {
	// Core settings
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"` // development, staging, production

	// LLM configuration (chat, embeddings, rerank)
	LLM LLMConfig `yaml:"llm"`

	// Index backends
	Stores StoresConfig `yaml:"stores"`

	// Retrieval and ingestion tuning
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Circuit breakers
	Breakers BreakersConfig `yaml:"breakers"`

	// DMS integration
	DMS DMSConfig `yaml:"dms"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "dealerrag",
		Version:     "1.0.0",
		Environment: "development",

		LLM:       DefaultLLMConfig(),
		Stores:    DefaultStoresConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Ingestion: DefaultIngestionConfig(),
		Breakers:  DefaultBreakersConfig(),
		DMS:       DefaultDMSConfig(),
		Server:    DefaultServerConfig(),
		Logging:   DefaultLoggingConfig(),
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// only ever taken from the environment in production deployments.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.ChatAPIKey = key
	}
	if key := os.Getenv("DEALERRAG_EMBEDDING_API_KEY"); key != "" {
		c.LLM.EmbeddingAPIKey = key
	}
	if key := os.Getenv("DEALERRAG_RERANK_API_KEY"); key != "" {
		c.LLM.RerankAPIKey = key
	}

	if url := os.Getenv("DEALERRAG_REDIS_URL"); url != "" {
		c.Stores.RedisURL = url
	}
	if host := os.Getenv("DEALERRAG_QDRANT_HOST"); host != "" {
		c.Stores.QdrantHost = host
	}
	if key := os.Getenv("DEALERRAG_QDRANT_API_KEY"); key != "" {
		c.Stores.QdrantAPIKey = key
	}
	if url := os.Getenv("DEALERRAG_OPENSEARCH_URL"); url != "" {
		c.Stores.OpenSearchURL = url
	}
	if pw := os.Getenv("DEALERRAG_OPENSEARCH_PASSWORD"); pw != "" {
		c.Stores.OpenSearchPassword = pw
	}

	if key := os.Getenv("DEALERRAG_DMS_API_KEY"); key != "" {
		c.DMS.APIKey = key
	}
	if secret := os.Getenv("DEALERRAG_DMS_API_SECRET"); secret != "" {
		c.DMS.APISecret = secret
	}

	if env := os.Getenv("DEALERRAG_ENV"); env != "" {
		c.Environment = env
	}
	if addr := os.Getenv("DEALERRAG_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if token := os.Getenv("DEALERRAG_API_TOKEN"); token != "" {
		c.Server.APIToken = token
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.ChatAPIKey == "" {
		return fmt.Errorf("chat API key not configured (set ANTHROPIC_API_KEY)")
	}
	if c.LLM.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.LLM.EmbeddingDimension)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.DMS.Validate(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether the engine runs with production hardening
// (auth required, debug logging off by default).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// parseDuration parses a duration string with a fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
