package config

import "time"

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
	HalfOpenMax      int    `yaml:"half_open_max"`
}

// GetRecoveryTimeout returns the recovery timeout as a duration.
func (c *BreakerConfig) GetRecoveryTimeout() time.Duration {
	return parseDuration(c.RecoveryTimeout, 30*time.Second)
}

// BreakersConfig holds per-provider circuit breaker settings.
type BreakersConfig struct {
	Vector    BreakerConfig `yaml:"vector"`
	Chat      BreakerConfig `yaml:"chat"`
	Embedding BreakerConfig `yaml:"embedding"`
	DMS       BreakerConfig `yaml:"dms"`

	// Adaptive mode lowers thresholds under sustained failure
	Adaptive bool `yaml:"adaptive"`
}

// DefaultBreakersConfig returns the per-provider defaults.
func DefaultBreakersConfig() BreakersConfig {
	return BreakersConfig{
		Vector:    BreakerConfig{FailureThreshold: 5, RecoveryTimeout: "30s", HalfOpenMax: 3},
		Chat:      BreakerConfig{FailureThreshold: 3, RecoveryTimeout: "20s", HalfOpenMax: 2},
		Embedding: BreakerConfig{FailureThreshold: 5, RecoveryTimeout: "30s", HalfOpenMax: 3},
		DMS:       BreakerConfig{FailureThreshold: 5, RecoveryTimeout: "60s", HalfOpenMax: 3},
		Adaptive:  true,
	}
}
