package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/assurtech/insurance-backend/pkg/models"
)

// CoverageItem is one guarantee inside a coverage package, with its annual
// à-la-carte cost and its indemnity limit (MAD).
type CoverageItem struct {
	Name  string          `json:"name"`
	Cost  decimal.Decimal `json:"cost"`
	Limit decimal.Decimal `json:"limit"`
}

// Tables holds the static rating configuration: base rates per
// (vehicle type, tier), the coverage catalog, and the risk banding tables.
// A Tables value is built once (DefaultTables) and injected into the Engine;
// it is never mutated afterwards.
type Tables struct {
	baseRates map[models.VehicleType]map[models.CoverageTier]decimal.Decimal
	catalog   map[models.VehicleType]map[string]CoverageItem
	packages  map[models.VehicleType]map[models.CoverageTier][]string
	cities    map[string]decimal.Decimal
	premium   map[string]struct{}
	economy   map[string]struct{}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultTables returns the production rating configuration (amounts in MAD).
func DefaultTables() *Tables {
	t := &Tables{
		baseRates: map[models.VehicleType]map[models.CoverageTier]decimal.Decimal{
			models.VehicleCar: {
				models.TierBasic:    d("3000"),
				models.TierStandard: d("4500"),
				models.TierPremium:  d("6500"),
			},
			models.VehicleMoto: {
				models.TierBasic:    d("1200"),
				models.TierStandard: d("2000"),
				models.TierPremium:  d("3000"),
			},
		},
		catalog: map[models.VehicleType]map[string]CoverageItem{
			models.VehicleCar: {
				"Vol":                      {Name: "Vol", Cost: d("15"), Limit: d("200000")},
				"Incendie":                 {Name: "Incendie", Cost: d("12"), Limit: d("200000")},
				"Bris de glace":            {Name: "Bris de glace", Cost: d("8"), Limit: d("10000")},
				"Vandalisme":               {Name: "Vandalisme", Cost: d("10"), Limit: d("50000")},
				"Dommages tous accidents":  {Name: "Dommages tous accidents", Cost: d("25"), Limit: d("400000")},
				"Assistance routière":      {Name: "Assistance routière", Cost: d("6"), Limit: d("5000")},
				"Protection du conducteur": {Name: "Protection du conducteur", Cost: d("9"), Limit: d("100000")},
				"Catastrophes naturelles":  {Name: "Catastrophes naturelles", Cost: d("7"), Limit: d("200000")},
			},
			models.VehicleMoto: {
				"Vol":                     {Name: "Vol", Cost: d("10"), Limit: d("80000")},
				"Incendie":                {Name: "Incendie", Cost: d("8"), Limit: d("80000")},
				"Assistance routière":     {Name: "Assistance routière", Cost: d("5"), Limit: d("3000")},
				"Équipement du motard":    {Name: "Équipement du motard", Cost: d("6"), Limit: d("15000")},
				"Dommages tous accidents": {Name: "Dommages tous accidents", Cost: d("18"), Limit: d("120000")},
			},
		},
		packages: map[models.VehicleType]map[models.CoverageTier][]string{
			models.VehicleCar: {
				// The basic tier is third-party liability only.
				models.TierBasic:    {},
				models.TierStandard: {"Vol", "Incendie", "Bris de glace", "Vandalisme"},
				models.TierPremium: {
					"Vol", "Incendie", "Bris de glace", "Vandalisme",
					"Dommages tous accidents", "Assistance routière",
					"Protection du conducteur", "Catastrophes naturelles",
				},
			},
			models.VehicleMoto: {
				models.TierBasic:    {},
				models.TierStandard: {"Vol", "Incendie", "Assistance routière"},
				models.TierPremium: {
					"Vol", "Incendie", "Assistance routière",
					"Équipement du motard", "Dommages tous accidents",
				},
			},
		},
		cities: map[string]decimal.Decimal{
			"casablanca": d("1.4"),
			"rabat":      d("1.2"),
			"marrakech":  d("1.15"),
			"fes":        d("1.1"),
			"tanger":     d("1.25"),
			"agadir":     d("1.05"),
			"meknes":     d("1.0"),
			"oujda":      d("0.95"),
			"kenitra":    d("1.1"),
			"tetouan":    d("1.0"),
		},
		premium: brandSet("BMW", "Mercedes", "Audi", "Porsche", "Land Rover", "Jaguar", "Lexus", "Maserati"),
		economy: brandSet("Dacia", "Fiat", "Seat", "Skoda", "Chery", "Suzuki", "Mahindra"),
	}
	return t
}

func brandSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = struct{}{}
	}
	return out
}

/* ============================= Base rates =============================== */

// BaseRate returns the annual base rate for a (vehicle type, tier) pair.
func (t *Tables) BaseRate(vt models.VehicleType, tier models.CoverageTier) (decimal.Decimal, error) {
	tiers, ok := t.baseRates[vt]
	if !ok {
		return decimal.Zero, ErrInvalidCoverage
	}
	rate, ok := tiers[tier]
	if !ok {
		return decimal.Zero, ErrInvalidCoverage
	}
	return rate, nil
}

// CoverageItemCost returns the à-la-carte cost of a single coverage item.
func (t *Tables) CoverageItemCost(vt models.VehicleType, name string) (decimal.Decimal, error) {
	item, ok := t.catalog[vt][name]
	if !ok {
		return decimal.Zero, ErrInvalidCoverage
	}
	return item.Cost, nil
}

// PackageItems resolves the ordered coverage item list of a package.
func (t *Tables) PackageItems(vt models.VehicleType, tier models.CoverageTier) ([]CoverageItem, error) {
	names, ok := t.packages[vt][tier]
	if !ok {
		return nil, ErrInvalidCoverage
	}
	items := make([]CoverageItem, 0, len(names))
	for _, n := range names {
		items = append(items, t.catalog[vt][n])
	}
	return items, nil
}

/* ============================ Risk banding ============================== */

// AgeFactor buckets the driver's age.
func (t *Tables) AgeFactor(age int) decimal.Decimal {
	switch {
	case age >= 18 && age <= 25:
		return d("1.5")
	case age >= 26 && age <= 35:
		return d("1.2")
	case age >= 36 && age <= 50:
		return d("1.0")
	case age >= 51 && age <= 65:
		return d("1.1")
	default:
		return d("1.3")
	}
}

// VehicleAgeFactor buckets the vehicle's age in years.
func (t *Tables) VehicleAgeFactor(years int) decimal.Decimal {
	switch {
	case years <= 2:
		return d("0.9")
	case years <= 5:
		return d("1.0")
	case years <= 10:
		return d("1.25")
	case years <= 15:
		return d("1.5")
	default:
		return d("2.0")
	}
}

// ValueFactor buckets the vehicle's market value (MAD).
func (t *Tables) ValueFactor(value decimal.Decimal) decimal.Decimal {
	switch {
	case value.LessThanOrEqual(d("100000")):
		return d("0.8")
	case value.LessThanOrEqual(d("200000")):
		return d("1.0")
	case value.LessThanOrEqual(d("400000")):
		return d("1.3")
	case value.LessThanOrEqual(d("600000")):
		return d("1.6")
	default:
		return d("2.0")
	}
}

// ExperienceFactor buckets the driver's licensed years.
func (t *Tables) ExperienceFactor(years int) decimal.Decimal {
	switch {
	case years <= 2:
		return d("1.8")
	case years <= 5:
		return d("1.3")
	case years <= 10:
		return d("1.0")
	default:
		return d("0.8")
	}
}

// CityFactor looks up the city multiplier; unknown cities are neutral.
func (t *Tables) CityFactor(city string) decimal.Decimal {
	if f, ok := t.cities[normalizeCity(city)]; ok {
		return f
	}
	return d("1.0")
}

// BrandFactor classifies the vehicle brand; unknown brands are neutral.
func (t *Tables) BrandFactor(brand string) decimal.Decimal {
	b := strings.ToLower(strings.TrimSpace(brand))
	if _, ok := t.premium[b]; ok {
		return d("1.2")
	}
	if _, ok := t.economy[b]; ok {
		return d("0.9")
	}
	return d("1.0")
}

var cityAccents = strings.NewReplacer("è", "e", "é", "e", "ê", "e", "à", "a", "â", "a")

func normalizeCity(city string) string {
	return cityAccents.Replace(strings.ToLower(strings.TrimSpace(city)))
}
