// Package dms integrates Dealer Management Systems. Adapters share one
// interface so the engine can swap the mock, OAuth and HMAC providers
// without caring which vendor sits behind it.
package dms

import (
	"context"
	"strings"
	"sync"
	"time"

	"dealerrag/internal/types"
)

// InventoryFilters restricts which filter keys adapters forward to the
// vendor API. Unknown keys are applied client-side after the fetch.
var serverSideFilters = map[string]bool{
	"make":      true,
	"model":     true,
	"year":      true,
	"status":    true,
	"category":  true,
	"max_price": true,
	"min_price": true,
	"fuel_type": true,
}

// Adapter is the surface every DMS integration provides.
type Adapter interface {
	// GetInventory returns vehicles matching the filters, paginated.
	GetInventory(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]types.Vehicle, error)
	// GetVehicleDetails looks up one vehicle by VIN.
	GetVehicleDetails(ctx context.Context, vin string) (*types.Vehicle, error)
	// GetServiceHistory returns service records for a VIN, newest first.
	GetServiceHistory(ctx context.Context, vin string) ([]types.ServiceRecord, error)
	// CheckAvailability reports whether a VIN is currently sellable.
	CheckAvailability(ctx context.Context, vin string) (bool, error)
	// SearchVehicles is a free-text search over the inventory.
	SearchVehicles(ctx context.Context, query string, limit int) ([]types.Vehicle, error)
	// SyncPricing refreshes pricing for the given VINs and returns how
	// many records changed.
	SyncPricing(ctx context.Context, vins []string) (int, error)
	// HealthCheck verifies the provider is reachable and authenticated.
	HealthCheck(ctx context.Context) error
	// Name identifies the provider.
	Name() string
	// Stats returns call counters for the adapter.
	Stats() Stats
}

// Stats counts adapter activity since construction.
type Stats struct {
	TotalCalls    int64     `json:"total_calls"`
	FailedCalls   int64     `json:"failed_calls"`
	AuthFailures  int64     `json:"auth_failures"`
	RateLimitHits int64     `json:"rate_limit_hits"`
	LastCall      time.Time `json:"last_call,omitempty"`
}

// SuccessRate is the fraction of calls that succeeded, 1.0 when idle.
func (s Stats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 1.0
	}
	return float64(s.TotalCalls-s.FailedCalls) / float64(s.TotalCalls)
}

// statsTracker gives adapters a shared, concurrency-safe counter set.
type statsTracker struct {
	mu    sync.Mutex
	stats Stats
}

func (t *statsTracker) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalCalls++
	t.stats.LastCall = time.Now()
	if err != nil {
		t.stats.FailedCalls++
	}
}

func (t *statsTracker) recordAuthFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.AuthFailures++
}

func (t *statsTracker) recordRateLimit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.RateLimitHits++
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// splitFilters partitions filters into those the vendor API accepts and
// those we must apply locally.
func splitFilters(filters map[string]interface{}) (server, local map[string]interface{}) {
	server = make(map[string]interface{})
	local = make(map[string]interface{})
	for k, v := range filters {
		if serverSideFilters[k] {
			server[k] = v
		} else {
			local[k] = v
		}
	}
	return server, local
}

// matchesFilters applies filters to one vehicle. Used by the mock
// provider and for client-side residual filtering.
func matchesFilters(v types.Vehicle, filters map[string]interface{}) bool {
	for key, raw := range filters {
		switch key {
		case "make":
			if s, ok := raw.(string); ok && !strings.EqualFold(v.Make, s) {
				return false
			}
		case "model":
			if s, ok := raw.(string); ok && !strings.EqualFold(v.Model, s) {
				return false
			}
		case "year":
			if y, ok := toInt(raw); ok && v.Year != y {
				return false
			}
		case "min_year":
			if y, ok := toInt(raw); ok && v.Year < y {
				return false
			}
		case "max_year":
			if y, ok := toInt(raw); ok && v.Year > y {
				return false
			}
		case "status":
			if s, ok := raw.(string); ok && string(v.Status) != s {
				return false
			}
		case "category":
			if s, ok := raw.(string); ok && string(v.Category) != s {
				return false
			}
		case "max_price":
			if p, ok := toFloat(raw); ok && v.Price > p {
				return false
			}
		case "min_price":
			if p, ok := toFloat(raw); ok && v.Price < p {
				return false
			}
		case "max_mileage":
			if m, ok := toInt(raw); ok && v.Mileage > m {
				return false
			}
		case "fuel_type":
			if s, ok := raw.(string); ok && !strings.EqualFold(v.FuelType, s) {
				return false
			}
		}
	}
	return true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
