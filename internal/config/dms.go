package config

import (
	"fmt"
	"time"
)

// DMS provider names.
var ValidDMSProviders = []string{"mock", "provider_a", "provider_b"}

// DMSConfig configures the dealer management system adapter.
type DMSConfig struct {
	Provider   string `yaml:"provider"` // mock, provider_a, provider_b
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DealerID   string `yaml:"dealer_id"`
	DealerCode string `yaml:"dealer_code"`
	Timeout    string `yaml:"timeout"`

	// Background inventory sync for source_type=dms ingestion
	SyncPageSize int `yaml:"sync_page_size"`
}

// DefaultDMSConfig returns the default DMS configuration.
func DefaultDMSConfig() DMSConfig {
	return DMSConfig{
		Provider:     "mock",
		DealerID:     "D-0001",
		Timeout:      "10s",
		SyncPageSize: 50,
	}
}

// Validate checks the provider name and required credentials.
func (c *DMSConfig) Validate() error {
	valid := false
	for _, p := range ValidDMSProviders {
		if c.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid DMS provider: %s (valid: %v)", c.Provider, ValidDMSProviders)
	}
	if c.Provider != "mock" && (c.APIKey == "" || c.BaseURL == "") {
		return fmt.Errorf("DMS provider %s requires base_url and api_key", c.Provider)
	}
	return nil
}

// GetTimeout returns the DMS call timeout as a duration.
func (c *DMSConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}
