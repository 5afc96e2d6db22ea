package config

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultLoggingConfig returns the default logging configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     "info",
		DebugMode: false,
	}
}
