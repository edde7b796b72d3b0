package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultPersonNorm is the monthly water norm in m³ per resident for abonents
// billed by person.
var DefaultPersonNorm = decimal.NewFromInt(3)

// WaterConsumption is the billable water quantity for one period.
type WaterConsumption struct {
	Volume          decimal.Decimal
	PreviousReading *decimal.Decimal
	CurrentReading  *decimal.Decimal
}

// MeterConsumption is the reading delta clamped at zero. A negative delta is
// a meter rollover or replacement, not an error.
func MeterConsumption(previous, current *decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case previous == nil && current == nil:
		return decimal.Zero, fmt.Errorf("%w: previous and current", ErrMissingMeterReading)
	case previous == nil:
		return decimal.Zero, fmt.Errorf("%w: previous", ErrMissingMeterReading)
	case current == nil:
		return decimal.Zero, fmt.Errorf("%w: current", ErrMissingMeterReading)
	}
	return decimal.Max(decimal.Zero, current.Sub(*previous)), nil
}

// PersonConsumption is people × norm.
func PersonConsumption(people int, norm decimal.Decimal) decimal.Decimal {
	if people <= 0 {
		return decimal.Zero
	}
	return norm.Mul(decimal.NewFromInt(int64(people)))
}

// GardenCharge returns the irrigation charge for an abonent, zero when the
// abonent has no garden.
func GardenCharge(a Abonent, tariff TariffVersion) (decimal.Decimal, error) {
	if !a.HasGarden {
		return decimal.Zero, nil
	}
	if a.GardenSize == nil {
		return decimal.Zero, fmt.Errorf("%w: garden size not set", ErrUnknownGardenSize)
	}
	return tariff.GardenRate(*a.GardenSize)
}

func (e *Engine) waterConsumption(in Input) (WaterConsumption, error) {
	switch in.Abonent.WaterTariffType {
	case WaterByMeter:
		previous, current := in.readings()
		volume, err := MeterConsumption(previous, current)
		if err != nil {
			return WaterConsumption{}, err
		}
		return WaterConsumption{Volume: volume, PreviousReading: previous, CurrentReading: current}, nil
	case WaterByPerson:
		return WaterConsumption{Volume: PersonConsumption(in.Abonent.NumberOfPeople, e.cfg.PersonNorm)}, nil
	default:
		return WaterConsumption{}, fmt.Errorf("%w: water tariff type %q", ErrInvalidInput, in.Abonent.WaterTariffType)
	}
}

// garbageUnits is the quantity the garbage rate applies to: residents for an
// apartment, one household for a private house.
func garbageUnits(a Abonent) decimal.Decimal {
	if a.BuildingType == BuildingApartment {
		return decimal.NewFromInt(int64(a.NumberOfPeople))
	}
	return one
}

func garbageRate(a Abonent, tariff TariffVersion) decimal.Decimal {
	if a.BuildingType == BuildingApartment {
		return tariff.GarbageApartmentRate
	}
	return tariff.GarbagePrivateRate
}

func waterRate(a Abonent, tariff TariffVersion) decimal.Decimal {
	if a.WaterTariffType == WaterByPerson {
		return tariff.WaterByPersonRate
	}
	return tariff.WaterByMeterRate
}
