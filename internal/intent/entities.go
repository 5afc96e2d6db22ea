package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var knownMakes = []string{
	"toyota", "honda", "ford", "chevrolet", "chevy", "tesla", "nissan",
	"hyundai", "kia", "subaru", "mazda", "volkswagen", "bmw", "mercedes",
	"audi", "lexus", "jeep", "ram", "gmc", "dodge", "volvo",
}

var canonicalMakes = map[string]string{
	"chevy":    "Chevrolet",
	"mercedes": "Mercedes-Benz",
}

// Common model names mapped to their make, so "Accord" alone still
// yields a make filter.
var knownModels = map[string]string{
	"camry": "Toyota", "corolla": "Toyota", "rav4": "Toyota", "highlander": "Toyota",
	"accord": "Honda", "civic": "Honda", "cr-v": "Honda", "pilot": "Honda",
	"f-150": "Ford", "f150": "Ford", "mustang": "Ford", "explorer": "Ford", "escape": "Ford",
	"silverado": "Chevrolet", "equinox": "Chevrolet", "malibu": "Chevrolet",
	"model 3": "Tesla", "model y": "Tesla", "model s": "Tesla", "model x": "Tesla",
}

var fuelTypes = []string{"electric", "hybrid", "diesel", "gasoline", "gas"}

var (
	yearRe  = regexp.MustCompile(`\b(20\d{2})\b`)
	priceRe = regexp.MustCompile(`under \$?(\d+)(k)?\b`)
	vinRe   = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)
)

// ExtractEntities pulls structured vehicle attributes out of a query.
// Recognized keys: make, model, year, max_price, fuel_type, vin.
func ExtractEntities(query string) map[string]interface{} {
	entities := make(map[string]interface{})
	q := strings.ToLower(query)

	for _, mk := range knownMakes {
		if strings.Contains(q, mk) {
			if canonical, ok := canonicalMakes[mk]; ok {
				entities["make"] = canonical
			} else {
				entities["make"] = strings.ToUpper(mk[:1]) + mk[1:]
			}
			break
		}
	}
	for model, mk := range knownModels {
		if strings.Contains(q, model) {
			entities["model"] = strings.ToUpper(model[:1]) + model[1:]
			if _, ok := entities["make"]; !ok {
				entities["make"] = mk
			}
			break
		}
	}

	if m := yearRe.FindStringSubmatch(q); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			entities["year"] = year
		}
	}

	if m := priceRe.FindStringSubmatch(q); m != nil {
		if amount, err := strconv.Atoi(m[1]); err == nil {
			// "under 30k" and "under 30" both mean thousands; plain
			// dollar amounts pass through
			if m[2] == "k" || amount < 200 {
				amount *= 1000
			}
			entities["max_price"] = float64(amount)
		}
	}

	for _, fuel := range fuelTypes {
		if strings.Contains(q, fuel) {
			if fuel == "gas" {
				fuel = "gasoline"
			}
			entities["fuel_type"] = fuel
			break
		}
	}

	// VIN matching is case-sensitive against the original query
	if m := vinRe.FindString(strings.ToUpper(query)); m != "" {
		entities["vin"] = m
	}

	return entities
}
