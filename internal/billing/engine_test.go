package billing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeterScenario(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Compute(Input{
		Abonent: meterAbonent(),
		Period:  mustPeriod(t, "2024-03"),
		Tariffs: testTariffs(),
	})
	require.NoError(t, err)

	require.NotNil(t, r.WaterService)
	assert.Nil(t, r.GarbageService)
	w := r.WaterService.Water
	assertDec(t, "28.2", w.Consumption)
	assertDec(t, "373.37", w.Accrued)
	assertDec(t, "11.20", w.Tax)
	assertDec(t, "0", w.Penalty)
	assertDec(t, "0", w.Debt)
	assertDec(t, "384.57", w.Total)
	assertDec(t, "0", r.WaterService.Sewerage.Total)
	assertDec(t, "384.57", r.WaterService.Total)
	assertDec(t, "384.57", r.TotalToPay)
	assertDec(t, "1250", *r.WaterService.PreviousReading)
	assertDec(t, "1278.2", *r.WaterService.CurrentReading)
	assert.Equal(t, "2024-01-01", r.TariffEffectiveDate.String())
	assert.Equal(t, "000101", r.PersonalAccount)
	assert.Equal(t, "Controller", r.ControllerName)
}

func TestComputeGarbageOnlyDebt(t *testing.T) {
	e := newTestEngine(t)
	a := Abonent{
		ID:                "g-1",
		PersonalAccount:   "000202",
		ControllerName:    "Controller",
		BuildingType:      BuildingPrivate,
		HasGarbageService: true,
		Balance:           dec("-1637.25"),
	}
	r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
	require.NoError(t, err)

	assert.Nil(t, r.WaterService)
	require.NotNil(t, r.GarbageService)
	g := r.GarbageService.Garbage
	assertDec(t, "1637.25", g.Debt)
	assertDec(t, "1", g.Consumption)
	assertDec(t, "120", g.Accrued)
	assertDec(t, "0", g.Tax)
	assertDec(t, "1757.25", g.Total)
	assertDec(t, "1757.25", r.TotalToPay)
}

func TestComputeUnknownGardenSize(t *testing.T) {
	e := newTestEngine(t)
	a := meterAbonent()
	a.HasGarden = true
	a.GardenSize = decp("0.7")

	r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
	assert.Nil(t, r)
	require.ErrorIs(t, err, ErrUnknownGardenSize)

	var ae *AbonentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "a-1", ae.AbonentID)
	assert.Equal(t, StageConsumption, ae.Stage)
	assert.Equal(t, "unknown_garden_size", ErrorKind(err))
	assert.True(t, IsDataQuality(err))
}

func TestComputeGardenWithoutWaterService(t *testing.T) {
	e := newTestEngine(t)
	garbageOnly := func(size string) Abonent {
		return Abonent{
			ID:                "g-2",
			PersonalAccount:   "000303",
			ControllerName:    "Controller",
			BuildingType:      BuildingPrivate,
			HasGarbageService: true,
			HasGarden:         true,
			GardenSize:        decp(size),
		}
	}

	tests := []struct {
		name    string
		size    string
		wantErr error
	}{
		{"unknown size", "0.7", ErrUnknownGardenSize},
		{"known size", "0.5", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := e.Compute(Input{Abonent: garbageOnly(tt.size), Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
			assert.Nil(t, r)
			require.ErrorIs(t, err, tt.wantErr)
			var ae *AbonentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, StageConsumption, ae.Stage)
		})
	}
}

func TestComputeGardenAddsToWater(t *testing.T) {
	e := newTestEngine(t)
	a := meterAbonent()
	a.HasGarden = true
	a.GardenSize = decp("0.5")

	r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
	require.NoError(t, err)
	// 28.2 × 13.24 + 100 = 473.368, tax 14.20104
	assertDec(t, "100", r.WaterService.GardenCharge)
	assertDec(t, "473.37", r.WaterService.Water.Accrued)
	assertDec(t, "14.20", r.WaterService.Water.Tax)
	assertDec(t, "487.57", r.WaterService.Water.Total)
}

func TestComputeWithDebtPenaltyAndSewerage(t *testing.T) {
	e := newTestEngine(t)
	a := Abonent{
		ID:                "b-1",
		PersonalAccount:   "000303",
		ControllerName:    "Controller",
		BuildingType:      BuildingApartment,
		WaterTariffType:   WaterByPerson,
		NumberOfPeople:    3,
		HasWaterService:   true,
		HasGarbageService: true,
		Balance:           dec("-1000"),
	}
	r, err := e.Compute(Input{
		Abonent:        a,
		Period:         mustPeriod(t, "2024-07"),
		Tariffs:        testTariffs(),
		PeriodPayments: dec("500"),
	})
	require.NoError(t, err)

	// 9 m³ at 16.00 = 144, tax 4.32, debt 490, penalty 4.90
	w := r.WaterService.Water
	assertDec(t, "9", w.Consumption)
	assertDec(t, "144", w.Accrued)
	assertDec(t, "4.32", w.Tax)
	assertDec(t, "490", w.Debt)
	assertDec(t, "4.90", w.Penalty)
	assertDec(t, "245", w.Paid)
	assertDec(t, "643.22", w.Total)

	// 9 m³ at 4.20 = 37.80, untaxed, debt 210, penalty 2.10
	s := r.WaterService.Sewerage
	assertDec(t, "37.80", s.Accrued)
	assertDec(t, "0", s.Tax)
	assertDec(t, "210", s.Debt)
	assertDec(t, "249.90", s.Total)

	// 3 people at 48.00 = 144, debt 300, penalty 3
	g := r.GarbageService.Garbage
	assertDec(t, "3", g.Consumption)
	assertDec(t, "144", g.Accrued)
	assertDec(t, "447", g.Total)

	assertDec(t, "893.12", r.WaterService.Total)
	assertDec(t, "1340.12", r.TotalToPay)
	assertDec(t, "1000", w.Debt.Add(s.Debt).Add(g.Debt))
}

func TestComputeRecalculation(t *testing.T) {
	e := newTestEngine(t)
	in := Input{
		Abonent:       meterAbonent(),
		Period:        mustPeriod(t, "2024-03"),
		Tariffs:       testTariffs(),
		Recalculation: &Recalculation{Water: dec("84.57")},
	}
	r, err := e.Compute(in)
	require.NoError(t, err)
	assertDec(t, "84.57", r.WaterService.Water.Recalculation)
	assertDec(t, "300", r.WaterService.Water.Total)

	in.Recalculation = &Recalculation{Water: dec("1000")}
	_, err = e.Compute(in)
	assert.ErrorIs(t, err, ErrInvalidRecalculation)

	in.Recalculation = &Recalculation{Garbage: dec("1")}
	_, err = e.Compute(in)
	assert.ErrorIs(t, err, ErrInvalidRecalculation)
}

func TestComputeErrors(t *testing.T) {
	e := newTestEngine(t)
	period := Period{Year: 2024, Month: 3}

	tests := []struct {
		name    string
		mutate  func(in *Input)
		wantErr error
		stage   Stage
	}{
		{"no tariff", func(in *Input) { in.Period = Period{Year: 2023, Month: 5} }, ErrNoTariffAvailable, StageTariff},
		{"missing reading", func(in *Input) { in.Abonent.CurrentMeterReading = nil }, ErrMissingMeterReading, StageConsumption},
		{"missing period", func(in *Input) { in.Period = Period{} }, ErrInvalidPeriod, StageValidate},
		{"missing id", func(in *Input) { in.Abonent.ID = "" }, ErrInvalidInput, StageValidate},
		{"bad building type", func(in *Input) { in.Abonent.BuildingType = "castle" }, ErrInvalidInput, StageValidate},
		{"water without tariff type", func(in *Input) { in.Abonent.WaterTariffType = "" }, ErrInvalidInput, StageValidate},
		{"garden without size", func(in *Input) { in.Abonent.HasGarden = true }, ErrUnknownGardenSize, StageValidate},
		{"debt without services", func(in *Input) {
			in.Abonent.HasWaterService = false
			in.Abonent.Balance = dec("-5")
		}, ErrInvalidBalanceState, StageDebt},
		{"sub-cent balance", func(in *Input) { in.Abonent.Balance = dec("-100.005") }, ErrInvalidInput, StageValidate},
		{"sub-cent payments", func(in *Input) { in.PeriodPayments = dec("10.001") }, ErrInvalidInput, StageValidate},
		{"no account", func(in *Input) { in.Abonent.PersonalAccount = "" }, ErrIncompleteAbonentProfile, StageAssemble},
		{"no controller", func(in *Input) { in.Abonent.ControllerName = "" }, ErrIncompleteAbonentProfile, StageAssemble},
		{"bad tariff", func(in *Input) {
			in.Tariffs = testTariffs()
			in.Tariffs[0].SalesTaxPercent = dec("3")
		}, ErrInvalidTariff, StageValidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Abonent: meterAbonent(), Period: period, Tariffs: testTariffs()}
			tt.mutate(&in)
			r, err := e.Compute(in)
			assert.Nil(t, r)
			require.ErrorIs(t, err, tt.wantErr)
			var ae *AbonentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.stage, ae.Stage)
		})
	}
}

func TestComputeProfileDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultAccountPrefix = "ACC-"
	cfg.DefaultControllerName = "Duty Controller"
	cfg.Company = CompanySettings{Name: "Vodokanal"}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	a := meterAbonent()
	a.PersonalAccount, a.ControllerName = "", ""
	r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
	require.NoError(t, err)
	assert.Equal(t, "ACC-a-1", r.PersonalAccount)
	assert.Equal(t, "Duty Controller", r.ControllerName)
	assert.Equal(t, "Vodokanal", r.Company.Name)
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Garbage = dec("0.5")
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PersonNorm = dec("-1")
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestMeterAccruedScalesWithDelta(t *testing.T) {
	e := newTestEngine(t)
	for _, delta := range []string{"1", "7.5", "10", "28.2", "333.333"} {
		d := dec(delta)
		accrued := func(delta decimal.Decimal) decimal.Decimal {
			a := meterAbonent()
			cur := a.LastMeterReading.Add(delta)
			a.CurrentMeterReading = &cur
			r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()})
			require.NoError(t, err)
			return r.WaterService.Water.Accrued
		}
		single, double := accrued(d), accrued(d.Add(d))
		// presented values are rounded, so allow one cent of drift
		diff := double.Sub(single.Mul(decimal.NewFromInt(2))).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.01")), "delta %s: %s vs %s", delta, single, double)
	}
}

func TestComputeIdempotent(t *testing.T) {
	e := newTestEngine(t)
	a := meterAbonent()
	a.HasGarbageService = true
	a.Balance = dec("-321.99")
	in := Input{Abonent: a, Period: mustPeriod(t, "2024-08"), Tariffs: testTariffs(), PeriodPayments: dec("17")}

	first, err := e.Compute(in)
	require.NoError(t, err)
	second, err := e.Compute(in)
	require.NoError(t, err)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestTotalToPayIsSumOfSections(t *testing.T) {
	e := newTestEngine(t)
	balances := []string{"0", "-0.01", "-17.33", "-1637.25", "55.10", "-99999.99"}
	for _, bal := range balances {
		for _, flags := range [][2]bool{{true, true}, {true, false}, {false, true}} {
			a := meterAbonent()
			a.HasWaterService, a.HasGarbageService = flags[0], flags[1]
			a.Balance = dec(bal)
			r, err := e.Compute(Input{Abonent: a, Period: mustPeriod(t, "2024-09"), Tariffs: testTariffs()})
			require.NoError(t, err)

			sum := decimal.Zero
			if r.WaterService != nil {
				require.True(t, flags[0])
				assert.False(t, r.WaterService.Water.Total.IsNegative())
				assert.False(t, r.WaterService.Sewerage.Total.IsNegative())
				sum = sum.Add(r.WaterService.Water.Total).Add(r.WaterService.Sewerage.Total)
			} else {
				require.False(t, flags[0])
			}
			if r.GarbageService != nil {
				require.True(t, flags[1])
				assert.False(t, r.GarbageService.Garbage.Total.IsNegative())
				sum = sum.Add(r.GarbageService.Garbage.Total)
			} else {
				require.False(t, flags[1])
			}
			assert.True(t, sum.Equal(r.TotalToPay), "balance %s flags %v", bal, flags)
		}
	}
}
