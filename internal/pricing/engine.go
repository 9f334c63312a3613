package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/assurtech/insurance-backend/pkg/models"
)

// Sentinel errors, used with errors.Is at the HTTP boundary.
var (
	// ErrInvalidCoverage is returned when the (vehicle type, tier) pair or a
	// coverage item name is not in the rating tables.
	ErrInvalidCoverage = errors.New("invalid coverage selection")

	// ErrInvalidProfile is returned when required profile fields are missing
	// entirely (as opposed to optional fields, which get defaults).
	ErrInvalidProfile = errors.New("invalid risk profile")
)

// Profile is the rating input. VehicleType and CoverageTier are required;
// the optional fields are pointers so that an absent value can be told apart
// from a legitimate zero (a brand-new vehicle has age 0).
type Profile struct {
	VehicleType  models.VehicleType
	CoverageTier models.CoverageTier

	DriverAge         *int
	VehicleAge        *int
	VehicleValue      *decimal.Decimal
	City              string
	DrivingExperience *int
	Brand             string
}

// Defaults applied to absent optional fields.
var (
	defaultDriverAge    = 30
	defaultVehicleAge   = 5
	defaultVehicleValue = decimal.RequireFromString("150000")
	defaultCity         = "Casablanca"
	defaultExperience   = 5
)

// Factors is the per-dimension risk breakdown.
type Factors struct {
	Age        decimal.Decimal `json:"age"`
	VehicleAge decimal.Decimal `json:"vehicle_age"`
	Value      decimal.Decimal `json:"vehicle_value"`
	City       decimal.Decimal `json:"city"`
	Experience decimal.Decimal `json:"driving_experience"`
	Brand      decimal.Decimal `json:"brand"`
}

// Product multiplies the six factors together. Order does not matter.
func (f Factors) Product() decimal.Decimal {
	return f.Age.Mul(f.VehicleAge).Mul(f.Value).Mul(f.City).Mul(f.Experience).Mul(f.Brand)
}

// Result is the full pricing output.
type Result struct {
	BaseRate     decimal.Decimal `json:"base_rate"`
	CoverageCost decimal.Decimal `json:"coverage_cost"`

	Factors        Factors         `json:"factors"`
	RiskMultiplier decimal.Decimal `json:"-"`               // exact product, used in the premium formula
	RiskDisplay    decimal.Decimal `json:"risk_multiplier"` // rounded to 2 decimals for display

	AnnualPremium    decimal.Decimal `json:"annual_premium"`
	MonthlyPremium   decimal.Decimal `json:"monthly_premium"`
	QuarterlyPremium decimal.Decimal `json:"quarterly_premium"`

	// Advisory figures only; the undiscounted premiums are what gets stored.
	DiscountedAnnual    decimal.Decimal `json:"discounted_annual"`
	DiscountedQuarterly decimal.Decimal `json:"discounted_quarterly"`

	Items []CoverageItem `json:"coverage_items"`
}

// Engine computes premiums from a risk profile. Pure computation: no I/O,
// no side effects, deterministic for a given Tables value.
type Engine struct {
	tables *Tables
}

func NewEngine(tables *Tables) *Engine { return &Engine{tables: tables} }

// Tables exposes the injected rating configuration (read-only use).
func (e *Engine) Tables() *Tables { return e.tables }

// CalculatePremium prices a profile:
//
//	annual = round((baseRate + coverageCost) × Π factors)
//	monthly = annual / 12, quarterly = annual / 4
//
// Only the annual figure is rounded to whole MAD; the divisions are merely
// snapped to cents so the numbers stay compatible with previously issued
// quotes.
func (e *Engine) CalculatePremium(p Profile) (*Result, error) {
	if p.VehicleType == "" || p.CoverageTier == "" {
		return nil, ErrInvalidProfile
	}

	baseRate, err := e.tables.BaseRate(p.VehicleType, p.CoverageTier)
	if err != nil {
		return nil, err
	}
	items, err := e.tables.PackageItems(p.VehicleType, p.CoverageTier)
	if err != nil {
		return nil, err
	}

	coverageCost := decimal.Zero
	for _, it := range items {
		coverageCost = coverageCost.Add(it.Cost)
	}

	age := defaultDriverAge
	if p.DriverAge != nil {
		age = *p.DriverAge
	}
	vehicleAge := defaultVehicleAge
	if p.VehicleAge != nil {
		vehicleAge = *p.VehicleAge
	}
	value := defaultVehicleValue
	if p.VehicleValue != nil {
		value = *p.VehicleValue
	}
	city := p.City
	if city == "" {
		city = defaultCity
	}
	experience := defaultExperience
	if p.DrivingExperience != nil {
		experience = *p.DrivingExperience
	}

	factors := Factors{
		Age:        e.tables.AgeFactor(age),
		VehicleAge: e.tables.VehicleAgeFactor(vehicleAge),
		Value:      e.tables.ValueFactor(value),
		City:       e.tables.CityFactor(city),
		Experience: e.tables.ExperienceFactor(experience),
		Brand:      e.tables.BrandFactor(p.Brand),
	}

	multiplier := factors.Product()
	annual := baseRate.Add(coverageCost).Mul(multiplier).Round(0)

	return &Result{
		BaseRate:            baseRate,
		CoverageCost:        coverageCost,
		Factors:             factors,
		RiskMultiplier:      multiplier,
		RiskDisplay:         multiplier.Round(2),
		AnnualPremium:       annual,
		MonthlyPremium:      annual.Div(decimal.NewFromInt(12)).Round(2),
		QuarterlyPremium:    annual.Div(decimal.NewFromInt(4)).Round(2),
		DiscountedAnnual:    annual.Mul(d("0.95")).Round(2),
		DiscountedQuarterly: annual.Div(decimal.NewFromInt(4)).Mul(d("0.98")).Round(2),
		Items:               items,
	}, nil
}
