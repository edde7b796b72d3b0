package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// GardenRate is the irrigation charge for one garden size.
type GardenRate struct {
	Size decimal.Decimal `json:"size" yaml:"size"`
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

// TariffVersion is one immutable entry of the tariff history. Percent fields
// are fractions: 3% is stored as 0.03.
type TariffVersion struct {
	EffectiveDate        Date            `json:"effective_date" yaml:"effective_date"`
	WaterByMeterRate     decimal.Decimal `json:"water_by_meter_rate" yaml:"water_by_meter_rate"`
	WaterByPersonRate    decimal.Decimal `json:"water_by_person_rate" yaml:"water_by_person_rate"`
	SewerageRate         decimal.Decimal `json:"sewerage_rate" yaml:"sewerage_rate"`
	GarbagePrivateRate   decimal.Decimal `json:"garbage_private_rate" yaml:"garbage_private_rate"`
	GarbageApartmentRate decimal.Decimal `json:"garbage_apartment_rate" yaml:"garbage_apartment_rate"`
	SalesTaxPercent      decimal.Decimal `json:"sales_tax_percent" yaml:"sales_tax_percent"`
	PenaltyRatePercent   decimal.Decimal `json:"penalty_rate_percent" yaml:"penalty_rate_percent"`
	GardenRates          []GardenRate    `json:"garden_rates,omitempty" yaml:"garden_rates,omitempty"`
}

var one = decimal.NewFromInt(1)

// Validate checks that rates are non-negative, percents are fractions in
// [0, 1) and garden sizes are positive and unique.
func (v TariffVersion) Validate() error {
	if v.EffectiveDate.IsZero() {
		return fmt.Errorf("%w: missing effective date", ErrInvalidTariff)
	}
	rates := map[string]decimal.Decimal{
		"water_by_meter_rate":    v.WaterByMeterRate,
		"water_by_person_rate":   v.WaterByPersonRate,
		"sewerage_rate":          v.SewerageRate,
		"garbage_private_rate":   v.GarbagePrivateRate,
		"garbage_apartment_rate": v.GarbageApartmentRate,
	}
	for name, r := range rates {
		if r.IsNegative() {
			return fmt.Errorf("%w: %s is negative (%s)", ErrInvalidTariff, name, v.EffectiveDate)
		}
	}
	for name, p := range map[string]decimal.Decimal{
		"sales_tax_percent":    v.SalesTaxPercent,
		"penalty_rate_percent": v.PenaltyRatePercent,
	} {
		if p.IsNegative() || p.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: %s must be a fraction in [0, 1), got %s (%s)",
				ErrInvalidTariff, name, p, v.EffectiveDate)
		}
	}
	for i, g := range v.GardenRates {
		if !g.Size.IsPositive() || g.Rate.IsNegative() {
			return fmt.Errorf("%w: garden rate %d invalid (%s)", ErrInvalidTariff, i, v.EffectiveDate)
		}
		for _, other := range v.GardenRates[:i] {
			if other.Size.Equal(g.Size) {
				return fmt.Errorf("%w: duplicate garden size %s (%s)", ErrInvalidTariff, g.Size, v.EffectiveDate)
			}
		}
	}
	return nil
}

// GardenRate returns the irrigation rate for size.
func (v TariffVersion) GardenRate(size decimal.Decimal) (decimal.Decimal, error) {
	for _, g := range v.GardenRates {
		if g.Size.Equal(size) {
			return g.Rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownGardenSize, size)
}

// ValidateHistory validates every version and rejects two versions sharing an
// effective date, which would make resolution ambiguous.
func ValidateHistory(versions []TariffVersion) error {
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		if err := v.Validate(); err != nil {
			return err
		}
		key := v.EffectiveDate.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate effective date %s", ErrInvalidTariff, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// SortHistory returns a copy of versions ordered by effective date.
func SortHistory(versions []TariffVersion) []TariffVersion {
	out := make([]TariffVersion, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate.Time)
	})
	return out
}

// ResolveTariff returns the version with the latest effective date that is not
// after the period start. The input order does not matter.
func ResolveTariff(period Period, versions []TariffVersion) (TariffVersion, error) {
	start := period.Start()
	best := -1
	for i, v := range versions {
		if v.EffectiveDate.After(start) {
			continue
		}
		if best < 0 || v.EffectiveDate.After(versions[best].EffectiveDate.Time) {
			best = i
		}
	}
	if best < 0 {
		return TariffVersion{}, fmt.Errorf("%w: period %s", ErrNoTariffAvailable, period)
	}
	return versions[best], nil
}
