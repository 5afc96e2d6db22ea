package dms

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"dealerrag/internal/types"
)

// MockAdapter is an in-memory DMS for development and tests. The fleet
// is generated deterministically at construction so repeated runs see
// the same inventory.
type MockAdapter struct {
	dealerID string
	vehicles map[string]types.Vehicle
	order    []string
	tracker  statsTracker
}

var (
	mockMakes = []struct {
		make   string
		models []string
	}{
		{"Toyota", []string{"Camry", "RAV4", "Corolla", "Highlander"}},
		{"Honda", []string{"Accord", "CR-V", "Civic", "Pilot"}},
		{"Ford", []string{"F-150", "Escape", "Explorer", "Mustang"}},
		{"Chevrolet", []string{"Silverado", "Equinox", "Malibu"}},
		{"Tesla", []string{"Model 3", "Model Y"}},
	}
	mockColors = []string{"White", "Black", "Silver", "Blue", "Red", "Gray"}
	mockFuels  = []string{"gasoline", "gasoline", "gasoline", "hybrid", "electric"}
)

// NewMockAdapter builds a mock with a deterministic 50-vehicle fleet.
func NewMockAdapter(dealerID string) *MockAdapter {
	m := &MockAdapter{
		dealerID: dealerID,
		vehicles: make(map[string]types.Vehicle, 50),
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		mk := mockMakes[i%len(mockMakes)]
		model := mk.models[rng.Intn(len(mk.models))]
		year := 2019 + rng.Intn(7)
		vin := fmt.Sprintf("MOCK%013d", i+1)

		category := types.CategoryUsed
		mileage := 8000 + rng.Intn(90000)
		if year >= 2025 {
			category = types.CategoryNew
			mileage = rng.Intn(50)
		} else if rng.Intn(4) == 0 {
			category = types.CategoryCertified
		}

		status := types.StatusAvailable
		switch rng.Intn(10) {
		case 0:
			status = types.StatusSold
		case 1:
			status = types.StatusReserved
		case 2:
			status = types.StatusInTransit
		}

		fuel := mockFuels[rng.Intn(len(mockFuels))]
		if mk.make == "Tesla" {
			fuel = "electric"
		}

		price := 18000 + float64(rng.Intn(42000))
		v := types.Vehicle{
			VIN:         vin,
			Make:        mk.make,
			Model:       model,
			Year:        year,
			Color:       mockColors[rng.Intn(len(mockColors))],
			FuelType:    fuel,
			Mileage:     mileage,
			Status:      status,
			Category:    category,
			Price:       price,
			MSRP:        price * 1.08,
			DealerID:    dealerID,
			Location:    "Main Lot",
			LastUpdated: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		}
		if fuel != "electric" {
			v.MPGCity = 20 + rng.Intn(15)
			v.MPGHighway = v.MPGCity + 6 + rng.Intn(6)
			v.Engine = "2.5L I4"
			v.Transmission = "automatic"
		}
		m.vehicles[vin] = v
		m.order = append(m.order, vin)
	}
	return m
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) GetInventory(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]types.Vehicle, error) {
	defer m.tracker.record(nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var matched []types.Vehicle
	for _, vin := range m.order {
		v := m.vehicles[vin]
		if matchesFilters(v, filters) {
			matched = append(matched, v)
		}
	}

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []types.Vehicle{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (m *MockAdapter) GetVehicleDetails(ctx context.Context, vin string) (*types.Vehicle, error) {
	defer m.tracker.record(nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.vehicles[vin]
	if !ok {
		return nil, fmt.Errorf("%w: vehicle %s", types.ErrNotFound, vin)
	}
	return &v, nil
}

// GetServiceHistory synthesizes a plausible maintenance trail from the
// vehicle's mileage, deterministic per VIN.
func (m *MockAdapter) GetServiceHistory(ctx context.Context, vin string) ([]types.ServiceRecord, error) {
	defer m.tracker.record(nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.vehicles[vin]
	if !ok {
		return nil, fmt.Errorf("%w: vehicle %s", types.ErrNotFound, vin)
	}

	seed := int64(0)
	for _, c := range vin {
		seed = seed*31 + int64(c)
	}
	rng := rand.New(rand.NewSource(seed))

	services := []struct {
		desc string
		cost float64
	}{
		{"Oil change and filter", 79.99},
		{"Tire rotation", 39.99},
		{"Brake pad replacement", 289.00},
		{"Multi-point inspection", 0},
		{"Air filter replacement", 49.99},
	}

	count := v.Mileage / 5000
	if count > 8 {
		count = 8
	}
	records := make([]types.ServiceRecord, 0, count)
	for i := 0; i < count; i++ {
		svc := services[rng.Intn(len(services))]
		records = append(records, types.ServiceRecord{
			VIN:         vin,
			Date:        v.LastUpdated.AddDate(0, -(count - i), 0),
			Mileage:     (i + 1) * 5000,
			Description: svc.desc,
			Cost:        svc.cost,
			Status:      "completed",
		})
	}
	// Newest first
	sort.Slice(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	return records, nil
}

func (m *MockAdapter) CheckAvailability(ctx context.Context, vin string) (bool, error) {
	v, err := m.GetVehicleDetails(ctx, vin)
	if err != nil {
		return false, err
	}
	return v.Status == types.StatusAvailable, nil
}

func (m *MockAdapter) SearchVehicles(ctx context.Context, query string, limit int) ([]types.Vehicle, error) {
	defer m.tracker.record(nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	var results []types.Vehicle
	for _, vin := range m.order {
		v := m.vehicles[vin]
		haystack := strings.ToLower(fmt.Sprintf("%d %s %s %s %s %s",
			v.Year, v.Make, v.Model, v.Trim, v.Color, v.FuelType))
		matched := len(terms) > 0
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			results = append(results, v)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// SyncPricing nudges prices deterministically so repeated syncs in tests
// report stable change counts.
func (m *MockAdapter) SyncPricing(ctx context.Context, vins []string) (int, error) {
	defer m.tracker.record(nil)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	changed := 0
	for _, vin := range vins {
		v, ok := m.vehicles[vin]
		if !ok {
			continue
		}
		if v.Status == types.StatusAvailable && v.Price > v.Invoice {
			v.Price = v.Price * 0.995
			v.LastUpdated = time.Now()
			m.vehicles[vin] = v
			changed++
		}
	}
	return changed, nil
}

func (m *MockAdapter) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (m *MockAdapter) Stats() Stats {
	return m.tracker.snapshot()
}
