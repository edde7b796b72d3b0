package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the number of decimal places of presented consumption.
const QuantityPlaces int32 = 3

// ChargeLine is the input for one service charge.
type ChargeLine struct {
	Consumption decimal.Decimal
	Rate        decimal.Decimal
	// Extra is a flat amount added to the accrual, such as irrigation.
	Extra         decimal.Decimal
	Taxed         bool
	Debt          decimal.Decimal
	Paid          decimal.Decimal
	Recalculation decimal.Decimal
}

// Charge is a service charge at full precision.
type Charge struct {
	Debt          decimal.Decimal
	Paid          decimal.Decimal
	Consumption   decimal.Decimal
	Accrued       decimal.Decimal
	Tax           decimal.Decimal
	Recalculation decimal.Decimal
	Penalty       decimal.Decimal
}

// Total is accrued + tax - recalculation + debt + penalty.
func (c Charge) Total() decimal.Decimal {
	return c.Accrued.Add(c.Tax).Sub(c.Recalculation).Add(c.Debt).Add(c.Penalty)
}

// ComputeCharge applies the tariff percentages to one charge line.
func ComputeCharge(line ChargeLine, tariff TariffVersion) (Charge, error) {
	accrued := line.Consumption.Mul(line.Rate).Add(line.Extra)
	tax := decimal.Zero
	if line.Taxed {
		tax = accrued.Mul(tariff.SalesTaxPercent)
	}
	c := Charge{
		Debt:          line.Debt,
		Paid:          line.Paid,
		Consumption:   line.Consumption,
		Accrued:       accrued,
		Tax:           tax,
		Recalculation: line.Recalculation,
		Penalty:       line.Debt.Mul(tariff.PenaltyRatePercent),
	}
	if c.Total().IsNegative() {
		return Charge{}, fmt.Errorf("%w: recalculation %s exceeds charge", ErrInvalidRecalculation, line.Recalculation)
	}
	return c, nil
}

// Present rounds the charge for rendering. Total is rounded from the
// full-precision total, not summed from rounded parts.
func (c Charge) Present() ReceiptChargeItem {
	return ReceiptChargeItem{
		Debt:          c.Debt.Round(MoneyPlaces),
		Paid:          c.Paid.Round(MoneyPlaces),
		Consumption:   c.Consumption.Round(QuantityPlaces),
		Accrued:       c.Accrued.Round(MoneyPlaces),
		Tax:           c.Tax.Round(MoneyPlaces),
		Recalculation: c.Recalculation.Round(MoneyPlaces),
		Penalty:       c.Penalty.Round(MoneyPlaces),
		Total:         c.Total().Round(MoneyPlaces),
	}
}

// Charges are the computed charges of every active service.
type Charges struct {
	Water        *Charge
	Sewerage     *Charge
	Garbage      *Charge
	WaterUsage   WaterConsumption
	GardenCharge decimal.Decimal
}

func (e *Engine) computeCharges(in Input, tariff TariffVersion, usage WaterConsumption, garden decimal.Decimal, debt, paid Allocation) (Charges, error) {
	var recalc Recalculation
	if in.Recalculation != nil {
		recalc = *in.Recalculation
	}
	out := Charges{WaterUsage: usage, GardenCharge: garden}

	if in.Abonent.HasWaterService {
		water, err := ComputeCharge(ChargeLine{
			Consumption:   usage.Volume,
			Rate:          waterRate(in.Abonent, tariff),
			Extra:         garden,
			Taxed:         true,
			Debt:          debt.Water,
			Paid:          paid.Water,
			Recalculation: recalc.Water,
		}, tariff)
		if err != nil {
			return Charges{}, fmt.Errorf("water: %w", err)
		}
		sewerage, err := ComputeCharge(ChargeLine{
			Consumption:   usage.Volume,
			Rate:          tariff.SewerageRate,
			Debt:          debt.Sewerage,
			Paid:          paid.Sewerage,
			Recalculation: recalc.Sewerage,
		}, tariff)
		if err != nil {
			return Charges{}, fmt.Errorf("sewerage: %w", err)
		}
		out.Water, out.Sewerage = &water, &sewerage
	}

	if in.Abonent.HasGarbageService {
		garbage, err := ComputeCharge(ChargeLine{
			Consumption:   garbageUnits(in.Abonent),
			Rate:          garbageRate(in.Abonent, tariff),
			Debt:          debt.Garbage,
			Paid:          paid.Garbage,
			Recalculation: recalc.Garbage,
		}, tariff)
		if err != nil {
			return Charges{}, fmt.Errorf("garbage: %w", err)
		}
		out.Garbage = &garbage
	}
	return out, nil
}
