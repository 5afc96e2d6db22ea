package types

import "time"

// Vehicle availability states as reported by a DMS.
const (
	StatusAvailable = "available"
	StatusSold      = "sold"
	StatusReserved  = "reserved"
	StatusInTransit = "in_transit"
	StatusService   = "service"
)

// Vehicle sale categories.
const (
	CategoryNew         = "new"
	CategoryUsed        = "used"
	CategoryCertified   = "certified"
	CategoryLeaseReturn = "lease_return"
)

// Vehicle is a normalized inventory record. Provider adapters map their
// native payloads onto this shape so the rest of the engine never sees
// vendor field names.
type Vehicle struct {
	VIN   string `json:"vin"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`

	Trim          string `json:"trim,omitempty"`
	Color         string `json:"color,omitempty"`
	InteriorColor string `json:"interior_color,omitempty"`
	BodyStyle     string `json:"body_style,omitempty"`
	Doors         int    `json:"doors,omitempty"`

	Engine       string `json:"engine,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	Drivetrain   string `json:"drivetrain,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	MPGCity      int    `json:"mpg_city,omitempty"`
	MPGHighway   int    `json:"mpg_highway,omitempty"`

	Mileage  int    `json:"mileage"`
	Status   string `json:"status"`
	Category string `json:"category"`

	Price   float64 `json:"price"`
	MSRP    float64 `json:"msrp,omitempty"`
	Invoice float64 `json:"invoice,omitempty"`

	Features []string `json:"features,omitempty"`
	Location string   `json:"location,omitempty"`

	DealerID    string    `json:"dealer_id"`
	LastUpdated time.Time `json:"last_updated"`
}

// ServiceRecord is one entry in a vehicle's maintenance history.
type ServiceRecord struct {
	VIN         string    `json:"vin"`
	Date        time.Time `json:"date"`
	Mileage     int       `json:"mileage"`
	Description string    `json:"description"`
	Cost        float64   `json:"cost"`
	Technician  string    `json:"technician,omitempty"`
	Status      string    `json:"status"`
}
