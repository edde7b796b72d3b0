package tariffs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/ebillmanager/internal/billing"
)

const sampleNotice = `
MUNICIPAL WATER AND WASTE UTILITY
TARIFF NOTICE No. 7
Effective from: 01.06.2024

Water (metered): 14,10 per m3
Water (per person): 16.00 per person per month
Sewerage: 4.20 per m3
Garbage (private house): 130.00 per household
Garbage (apartment): 48.00 per resident

Sales tax: 3%
Late payment penalty: 1 %

Irrigation rates by garden size:
Garden 0.2: 40.00
Garden 0.5: 100.00
Garden 1.0: 200.00
`

func TestParseNoticeText(t *testing.T) {
	v, err := ParseNoticeText(sampleNotice)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", v.EffectiveDate.String())
	assert.Equal(t, "14.1", v.WaterByMeterRate.String())
	assert.Equal(t, "16", v.WaterByPersonRate.String())
	assert.Equal(t, "4.2", v.SewerageRate.String())
	assert.Equal(t, "130", v.GarbagePrivateRate.String())
	assert.Equal(t, "48", v.GarbageApartmentRate.String())
	assert.Equal(t, "0.03", v.SalesTaxPercent.String())
	assert.Equal(t, "0.01", v.PenaltyRatePercent.String())
	require.Len(t, v.GardenRates, 3)
	assert.Equal(t, "0.5", v.GardenRates[1].Size.String())
	assert.Equal(t, "200", v.GardenRates[2].Rate.String())
}

func TestParseNoticeTextFractionAndISODate(t *testing.T) {
	text := `Effective date 2024-01-01
Water (by meter): 13.24
Water (by person): 15
Garbage (private): 120
Garbage (apartment): 45.50
Sales tax: 0.03
Penalty: .01`
	v, err := ParseNoticeText(text)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", v.EffectiveDate.String())
	assert.Equal(t, "0.03", v.SalesTaxPercent.String())
	assert.Equal(t, "0.01", v.PenaltyRatePercent.String())
	assert.True(t, v.SewerageRate.IsZero())
}

func TestParseNoticeTextErrors(t *testing.T) {
	_, err := ParseNoticeText("Water (metered): 13.24")
	assert.ErrorIs(t, err, ErrIncompleteNotice)

	_, err = ParseNoticeText("Effective from: 2024-01-01\nWater (metered): 13.24\nSales tax: 3%")
	require.ErrorIs(t, err, ErrIncompleteNotice)
	assert.Contains(t, err.Error(), "garbage apartment")
	assert.Contains(t, err.Error(), "penalty")

	text := `Effective from: 2024-01-01
Water (metered): 13.24
Water (per person): 15
Garbage (private): 120
Garbage (apartment): 45.50
Sales tax: 3
Penalty: 1%`
	_, err = ParseNoticeText(text)
	assert.ErrorIs(t, err, ErrAmbiguousPercent)

	valid := strings.Replace(text, "Sales tax: 3", "Sales tax: 3%", 1)
	_, err = ParseNoticeText(valid)
	require.NoError(t, err)
	_, err = ParseNoticeText(valid + "\nGarden 0.2: 40\nGarden 0.20: 50\n")
	assert.ErrorIs(t, err, billing.ErrInvalidTariff)
}

func TestFormatRegistry(t *testing.T) {
	f, ok := GetFormat("standard")
	require.True(t, ok)
	assert.NotNil(t, f.ParseText)
	assert.Contains(t, ListFormats(), "standard")

	assert.Panics(t, func() {
		RegisterFormat(Format{Key: "standard", ParseText: func(string) (billing.TariffVersion, error) { return billing.TariffVersion{}, nil }})
	})
	assert.Panics(t, func() { RegisterFormat(Format{Key: "x"}) })

	_, err := ParseNoticePDF("/nonexistent.pdf", "unknown")
	assert.Error(t, err)
	_, err = ParseNoticePDF("/nonexistent.pdf", "standard")
	assert.Error(t, err)
}
