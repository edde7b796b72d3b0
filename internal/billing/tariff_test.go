package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTariff(t *testing.T) {
	versions := testTariffs()
	reversed := []TariffVersion{versions[1], versions[0]}

	tests := []struct {
		period string
		want   Date
	}{
		{"2024-01", NewDate(2024, time.January, 1)},
		{"2024-03", NewDate(2024, time.January, 1)},
		{"2024-05", NewDate(2024, time.January, 1)},
		{"2024-06", NewDate(2024, time.June, 1)},
		{"2025-01", NewDate(2024, time.June, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p := mustPeriod(t, tt.period)
			got, err := ResolveTariff(p, versions)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.EffectiveDate.Time), "got %s", got.EffectiveDate)

			got, err = ResolveTariff(p, reversed)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.EffectiveDate.Time), "order must not matter")
		})
	}
}

func TestResolveTariffNoneEffective(t *testing.T) {
	_, err := ResolveTariff(mustPeriod(t, "2023-12"), testTariffs())
	assert.ErrorIs(t, err, ErrNoTariffAvailable)

	_, err = ResolveTariff(mustPeriod(t, "2024-03"), nil)
	assert.ErrorIs(t, err, ErrNoTariffAvailable)
}

func TestTariffValidate(t *testing.T) {
	base := testTariffs()[0]

	tests := []struct {
		name   string
		mutate func(v *TariffVersion)
	}{
		{"missing date", func(v *TariffVersion) { v.EffectiveDate = Date{} }},
		{"negative rate", func(v *TariffVersion) { v.WaterByMeterRate = dec("-1") }},
		{"whole percent tax", func(v *TariffVersion) { v.SalesTaxPercent = dec("3") }},
		{"whole percent penalty", func(v *TariffVersion) { v.PenaltyRatePercent = dec("1") }},
		{"zero garden size", func(v *TariffVersion) {
			v.GardenRates = []GardenRate{{Size: dec("0"), Rate: dec("1")}}
		}},
		{"duplicate garden size", func(v *TariffVersion) {
			v.GardenRates = []GardenRate{{Size: dec("0.5"), Rate: dec("1")}, {Size: dec("0.50"), Rate: dec("2")}}
		}},
	}
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := base
			v.GardenRates = append([]GardenRate(nil), base.GardenRates...)
			tt.mutate(&v)
			assert.ErrorIs(t, v.Validate(), ErrInvalidTariff)
		})
	}
}

func TestValidateHistoryDuplicateDate(t *testing.T) {
	v := testTariffs()
	v[1].EffectiveDate = v[0].EffectiveDate
	assert.ErrorIs(t, ValidateHistory(v), ErrInvalidTariff)
}

func TestSortHistory(t *testing.T) {
	v := testTariffs()
	sorted := SortHistory([]TariffVersion{v[1], v[0]})
	require.Len(t, sorted, 2)
	assert.Equal(t, "2024-01-01", sorted[0].EffectiveDate.String())
	assert.Equal(t, "2024-06-01", sorted[1].EffectiveDate.String())
}

func TestGardenRate(t *testing.T) {
	v := testTariffs()[0]
	r, err := v.GardenRate(dec("0.50"))
	require.NoError(t, err)
	assertDec(t, "100", r)

	_, err = v.GardenRate(dec("0.7"))
	assert.ErrorIs(t, err, ErrUnknownGardenSize)
}
