package config

import "time"

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// Bearer token required outside development
	APIToken string `yaml:"api_token"`

	// Per-client request budget
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// CORS
	AllowedOrigins []string `yaml:"allowed_origins"`

	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:         ":8000",
		RateLimitPerMinute: 120,
		AllowedOrigins:     []string{"*"},
		ReadTimeout:        "30s",
		WriteTimeout:       "120s",
		ShutdownTimeout:    "15s",
	}
}

// GetReadTimeout returns the read timeout as a duration.
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as a duration.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 120*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(c.ShutdownTimeout, 15*time.Second)
}
