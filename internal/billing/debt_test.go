package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateDebt(t *testing.T) {
	w := DefaultWeights()
	tests := []struct {
		name                      string
		balance                   string
		water, garbage            bool
		wantW, wantS, wantGarbage string
	}{
		{"both", "-1000", true, true, "490", "210", "300"},
		{"water only", "-1000", true, false, "700", "300", "0"},
		{"garbage only", "-1637.25", false, true, "0", "0", "1637.25"},
		{"credit balance", "250", true, true, "0", "0", "0"},
		{"zero balance no services", "0", false, false, "0", "0", "0"},
		{"remainder to largest", "-100.01", true, true, "49.01", "21.00", "30.00"},
		{"water only remainder", "-0.05", true, false, "0.03", "0.02", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := AllocateDebt(dec(tt.balance), tt.water, tt.garbage, w)
			require.NoError(t, err)
			assertDec(t, tt.wantW, a.Water, "water")
			assertDec(t, tt.wantS, a.Sewerage, "sewerage")
			assertDec(t, tt.wantGarbage, a.Garbage, "garbage")
		})
	}
}

func TestAllocateDebtNoServices(t *testing.T) {
	_, err := AllocateDebt(dec("-10"), false, false, DefaultWeights())
	assert.ErrorIs(t, err, ErrInvalidBalanceState)
}

func TestAllocateDebtSumsToDebt(t *testing.T) {
	w := DefaultWeights()
	for cents := int64(1); cents <= 5000; cents += 7 {
		balance := decimal.New(-cents, -2)
		for _, flags := range [][2]bool{{true, true}, {true, false}, {false, true}} {
			a, err := AllocateDebt(balance, flags[0], flags[1], w)
			require.NoError(t, err)
			require.True(t, a.Total().Equal(balance.Abs()), "balance %s flags %v: got %s", balance, flags, a.Total())
			require.False(t, a.Water.IsNegative() || a.Sewerage.IsNegative() || a.Garbage.IsNegative())
		}
	}
}

func TestSplitRejectsNegative(t *testing.T) {
	_, err := Split(dec("-1"), true, true, DefaultWeights())
	assert.ErrorIs(t, err, ErrInvalidBalanceState)
}

func TestAllocationWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Garbage = dec("0.31")
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.WaterOnlyWater = dec("0.8")
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.Water, w.Sewerage = dec("0.71"), dec("-0.01")
	assert.Error(t, w.Validate())
}
