package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, dec(want).String(), got.String(), msgAndArgs...)
}

func testTariffs() []TariffVersion {
	return []TariffVersion{
		{
			EffectiveDate:        NewDate(2024, time.January, 1),
			WaterByMeterRate:     dec("13.24"),
			WaterByPersonRate:    dec("15.00"),
			GarbagePrivateRate:   dec("120.00"),
			GarbageApartmentRate: dec("45.50"),
			SalesTaxPercent:      dec("0.03"),
			PenaltyRatePercent:   dec("0"),
			GardenRates: []GardenRate{
				{Size: dec("0.2"), Rate: dec("40")},
				{Size: dec("0.3"), Rate: dec("60")},
				{Size: dec("0.5"), Rate: dec("100")},
				{Size: dec("1.0"), Rate: dec("200")},
			},
		},
		{
			EffectiveDate:        NewDate(2024, time.June, 1),
			WaterByMeterRate:     dec("14.10"),
			WaterByPersonRate:    dec("16.00"),
			SewerageRate:         dec("4.20"),
			GarbagePrivateRate:   dec("130.00"),
			GarbageApartmentRate: dec("48.00"),
			SalesTaxPercent:      dec("0.03"),
			PenaltyRatePercent:   dec("0.01"),
		},
	}
}

func meterAbonent() Abonent {
	return Abonent{
		ID:                  "a-1",
		FullName:            "Test Abonent",
		PersonalAccount:     "000101",
		ControllerName:      "Controller",
		BuildingType:        BuildingPrivate,
		WaterTariffType:     WaterByMeter,
		NumberOfPeople:      2,
		HasWaterService:     true,
		LastMeterReading:    decp("1250"),
		CurrentMeterReading: decp("1278.2"),
	}
}

func mustPeriod(t *testing.T, s string) Period {
	t.Helper()
	p, err := ParsePeriod(s)
	require.NoError(t, err)
	return p
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}
