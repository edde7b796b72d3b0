package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places of presented currency amounts.
const MoneyPlaces int32 = 2

// AllocationWeights are the proportional shares used to split one running
// balance into per-service portions.
type AllocationWeights struct {
	// Shares when both water and garbage are active.
	Water    decimal.Decimal
	Sewerage decimal.Decimal
	Garbage  decimal.Decimal
	// Shares when only water is active.
	WaterOnlyWater    decimal.Decimal
	WaterOnlySewerage decimal.Decimal
}

// DefaultWeights returns 49/21/30 for water+garbage and 70/30 for water only.
func DefaultWeights() AllocationWeights {
	return AllocationWeights{
		Water:             decimal.RequireFromString("0.49"),
		Sewerage:          decimal.RequireFromString("0.21"),
		Garbage:           decimal.RequireFromString("0.30"),
		WaterOnlyWater:    decimal.RequireFromString("0.70"),
		WaterOnlySewerage: decimal.RequireFromString("0.30"),
	}
}

// Validate checks that each share set is non-negative and sums to one.
func (w AllocationWeights) Validate() error {
	for _, d := range []decimal.Decimal{w.Water, w.Sewerage, w.Garbage, w.WaterOnlyWater, w.WaterOnlySewerage} {
		if d.IsNegative() {
			return fmt.Errorf("allocation weights: negative share %s", d)
		}
	}
	if s := w.Water.Add(w.Sewerage).Add(w.Garbage); !s.Equal(one) {
		return fmt.Errorf("allocation weights: water+sewerage+garbage shares sum to %s", s)
	}
	if s := w.WaterOnlyWater.Add(w.WaterOnlySewerage); !s.Equal(one) {
		return fmt.Errorf("allocation weights: water-only shares sum to %s", s)
	}
	return nil
}

// Allocation is an amount split across the three services.
type Allocation struct {
	Water    decimal.Decimal `json:"water"`
	Sewerage decimal.Decimal `json:"sewerage"`
	Garbage  decimal.Decimal `json:"garbage"`
}

// Total is the sum of the three portions.
func (a Allocation) Total() decimal.Decimal {
	return a.Water.Add(a.Sewerage).Add(a.Garbage)
}

// DebtOf returns the outstanding debt carried by a signed balance. A credit
// balance carries no debt.
func DebtOf(balance decimal.Decimal) decimal.Decimal {
	if balance.IsNegative() {
		return balance.Neg()
	}
	return decimal.Zero
}

// AllocateDebt splits the debt carried by balance across the active services.
func AllocateDebt(balance decimal.Decimal, hasWater, hasGarbage bool, w AllocationWeights) (Allocation, error) {
	return Split(DebtOf(balance), hasWater, hasGarbage, w)
}

// Split divides a non-negative amount across the active services. Portions are
// rounded to currency precision and any rounding remainder goes to the largest
// portion, so the portions always sum to the rounded amount.
func Split(amount decimal.Decimal, hasWater, hasGarbage bool, w AllocationWeights) (Allocation, error) {
	if amount.IsNegative() {
		return Allocation{}, fmt.Errorf("%w: cannot split negative amount %s", ErrInvalidBalanceState, amount)
	}
	total := amount.Round(MoneyPlaces)
	if total.IsZero() {
		return Allocation{}, nil
	}

	var a Allocation
	switch {
	case hasWater && hasGarbage:
		a = Allocation{
			Water:    total.Mul(w.Water).Round(MoneyPlaces),
			Sewerage: total.Mul(w.Sewerage).Round(MoneyPlaces),
			Garbage:  total.Mul(w.Garbage).Round(MoneyPlaces),
		}
	case hasWater:
		a = Allocation{
			Water:    total.Mul(w.WaterOnlyWater).Round(MoneyPlaces),
			Sewerage: total.Mul(w.WaterOnlySewerage).Round(MoneyPlaces),
		}
	case hasGarbage:
		a = Allocation{Garbage: total}
	default:
		return Allocation{}, fmt.Errorf("%w: %s outstanding with no active services", ErrInvalidBalanceState, total)
	}

	if rem := total.Sub(a.Total()); !rem.IsZero() {
		p := a.largest()
		*p = p.Add(rem)
	}
	return a, nil
}

// largest returns the biggest portion, preferring water, then sewerage, then
// garbage on ties.
func (a *Allocation) largest() *decimal.Decimal {
	p := &a.Water
	if a.Sewerage.GreaterThan(*p) {
		p = &a.Sewerage
	}
	if a.Garbage.GreaterThan(*p) {
		p = &a.Garbage
	}
	return p
}
