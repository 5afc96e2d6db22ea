package dms

import (
	"fmt"

	"dealerrag/internal/breaker"
	"dealerrag/internal/config"
)

// New builds the adapter named by the configuration. br may be nil.
func New(cfg config.DMSConfig, br *breaker.Breaker) (Adapter, error) {
	switch cfg.Provider {
	case "mock", "":
		return NewMockAdapter(cfg.DealerID), nil
	case "provider_a":
		return NewProviderAAdapter(cfg.BaseURL, cfg.APIKey, cfg.APISecret,
			cfg.DealerID, cfg.GetTimeout(), br), nil
	case "provider_b":
		return NewProviderBAdapter(cfg.BaseURL, cfg.APIKey, cfg.APISecret,
			cfg.DealerCode, cfg.GetTimeout(), br), nil
	default:
		return nil, fmt.Errorf("unknown DMS provider: %s", cfg.Provider)
	}
}
