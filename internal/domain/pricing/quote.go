package pricing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/installmatch/internal/domain/tier"
)

// Quality is a material grade.
type Quality string

// Material grades.
const (
	QualityEconomy  Quality = "economy"
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
	QualityLuxury   Quality = "luxury"
)

// Complexity is the installation difficulty.
type Complexity string

// Installation difficulties.
const (
	ComplexitySimple      Complexity = "simple"
	ComplexityStandard    Complexity = "standard"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// QuoteConfig holds the unit prices, multipliers and surcharges of quote mode.
type QuoteConfig struct {
	UnitPrice    float64 `json:"unit_price" koanf:"unit_price"`
	MinimumFee   int64   `json:"minimum_fee" koanf:"minimum_fee"`
	FreeRadiusKm float64 `json:"free_radius_km" koanf:"free_radius_km"`
	PerKmFee     float64 `json:"per_km_fee" koanf:"per_km_fee"`

	ParkingFee          int64 `json:"parking_fee" koanf:"parking_fee"`
	NoElevatorFee       int64 `json:"no_elevator_fee" koanf:"no_elevator_fee"`
	SpecialEquipmentFee int64 `json:"special_equipment_fee" koanf:"special_equipment_fee"`
	RushHourFee         int64 `json:"rush_hour_fee" koanf:"rush_hour_fee"`

	Quality    map[Quality]float64    `json:"quality" koanf:"quality"`
	Complexity map[Complexity]float64 `json:"complexity" koanf:"complexity"`
}

// DefaultQuoteConfig returns the standard quote tables.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		UnitPrice:           15000,
		MinimumFee:          50000,
		FreeRadiusKm:        10,
		PerKmFee:            1000,
		ParkingFee:          10000,
		NoElevatorFee:       20000,
		SpecialEquipmentFee: 30000,
		RushHourFee:         15000,
		Quality: map[Quality]float64{
			QualityEconomy:  0.8,
			QualityStandard: 1.0,
			QualityPremium:  1.3,
			QualityLuxury:   1.6,
		},
		Complexity: map[Complexity]float64{
			ComplexitySimple:      1.0,
			ComplexityStandard:    1.2,
			ComplexityComplex:     1.5,
			ComplexityVeryComplex: 2.0,
		},
	}
}

// Validate rejects negative fees and non-positive multipliers.
func (q QuoteConfig) Validate() error {
	for name, v := range map[string]float64{
		"unit_price":            q.UnitPrice,
		"minimum_fee":           float64(q.MinimumFee),
		"free_radius_km":        q.FreeRadiusKm,
		"per_km_fee":            q.PerKmFee,
		"parking_fee":           float64(q.ParkingFee),
		"no_elevator_fee":       float64(q.NoElevatorFee),
		"special_equipment_fee": float64(q.SpecialEquipmentFee),
		"rush_hour_fee":         float64(q.RushHourFee),
	} {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: quote %s is %v", ErrInvalidFee, name, v)
		}
	}
	for _, k := range []Quality{QualityEconomy, QualityStandard, QualityPremium, QualityLuxury} {
		if m, ok := q.Quality[k]; !ok || !(m > 0) {
			return fmt.Errorf("%w: multiplier for %s missing or non-positive", ErrUnknownQuality, k)
		}
	}
	for _, k := range []Complexity{ComplexitySimple, ComplexityStandard, ComplexityComplex, ComplexityVeryComplex} {
		if m, ok := q.Complexity[k]; !ok || !(m > 0) {
			return fmt.Errorf("%w: multiplier for %s missing or non-positive", ErrUnknownComplexity, k)
		}
	}
	return nil
}

// Material is one line of materials in a quote.
type Material struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Quality   Quality `json:"quality"`
}

// QuoteInput describes an installation to estimate.
type QuoteInput struct {
	AreaSquareMeters float64    `json:"area_square_meters"`
	Materials        []Material `json:"materials"`
	Complexity       Complexity `json:"complexity"`
	DistanceKm       float64    `json:"distance_km"`

	Parking          bool `json:"parking"`
	NoElevator       bool `json:"no_elevator"`
	SpecialEquipment bool `json:"special_equipment"`
	RushHour         bool `json:"rush_hour"`

	Discount  int64     `json:"discount"`
	Urgency   Urgency   `json:"urgency"`
	CreatedAt time.Time `json:"created_at"`
	Now       time.Time `json:"now"`
}

// Line is one itemized quote amount.
type Line struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// Quote is an itemized estimate and the price it settles at.
type Quote struct {
	Lines     []Line    `json:"lines"`
	BaseFee   int64     `json:"base_fee"`
	Breakdown Breakdown `json:"breakdown"`
}

// Quote builds a base fee from area, materials, complexity and surcharges,
// then settles it through Price for tier t.
func (e *Engine) Quote(q QuoteInput, t tier.ID) (Quote, error) {
	qc := e.cfg.Quote
	if !(q.AreaSquareMeters >= 0) || !(q.DistanceKm >= 0) {
		return Quote{}, fmt.Errorf("%w: area and distance must be non-negative", ErrInvalidQuote)
	}
	complexity := q.Complexity
	if complexity == "" {
		complexity = ComplexityStandard
	}
	cm, ok := qc.Complexity[Complexity(strings.ToLower(string(complexity)))]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownComplexity, string(q.Complexity))
	}

	var lines []Line
	add := func(label string, amount float64) {
		if a := roundAmount(amount); a != 0 {
			lines = append(lines, Line{Label: label, Amount: a})
		}
	}

	add("labor", q.AreaSquareMeters*qc.UnitPrice*cm)
	for i, m := range q.Materials {
		if !(m.Quantity >= 0) || !(m.UnitPrice >= 0) {
			return Quote{}, fmt.Errorf("%w: material %d has negative quantity or price", ErrInvalidQuote, i)
		}
		quality := m.Quality
		if quality == "" {
			quality = QualityStandard
		}
		qm, ok := qc.Quality[Quality(strings.ToLower(string(quality)))]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %q", ErrUnknownQuality, string(m.Quality))
		}
		label := "material"
		if m.Name != "" {
			label = "material: " + m.Name
		}
		add(label, m.Quantity*m.UnitPrice*qm)
	}
	if excess := q.DistanceKm - qc.FreeRadiusKm; excess > 0 {
		add("distance", excess*qc.PerKmFee)
	}
	if q.Parking {
		add("parking", float64(qc.ParkingFee))
	}
	if q.NoElevator {
		add("no_elevator", float64(qc.NoElevatorFee))
	}
	if q.SpecialEquipment {
		add("special_equipment", float64(qc.SpecialEquipmentFee))
	}
	if q.RushHour {
		add("rush_hour", float64(qc.RushHourFee))
	}

	var base int64
	for _, l := range lines {
		base += l.Amount
	}
	if base < qc.MinimumFee {
		lines = append(lines, Line{Label: "minimum_fee_adjustment", Amount: qc.MinimumFee - base})
		base = qc.MinimumFee
	}

	b, err := e.Price(Input{
		BaseFee:   base,
		Discount:  q.Discount,
		Urgency:   q.Urgency,
		CreatedAt: q.CreatedAt,
		Now:       q.Now,
	}, t)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Lines: lines, BaseFee: base, Breakdown: b}, nil
}
