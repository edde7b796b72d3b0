package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/ebillmanager/internal/billing"
)

// Row types for the GORM backend. Decimal columns are TEXT on SQLite and
// NUMERIC on Postgres; decimal.Decimal scans both.

type abonentRow struct {
	ID                  string           `gorm:"primaryKey;column:id"`
	FullName            string           `gorm:"column:full_name"`
	Address             string           `gorm:"column:address"`
	PersonalAccount     string           `gorm:"column:personal_account"`
	ControllerName      string           `gorm:"column:controller_name"`
	BuildingType        string           `gorm:"column:building_type"`
	WaterTariffType     string           `gorm:"column:water_tariff_type"`
	NumberOfPeople      int              `gorm:"column:number_of_people"`
	HasGarden           bool             `gorm:"column:has_garden"`
	GardenSize          *decimal.Decimal `gorm:"column:garden_size"`
	HasWaterService     bool             `gorm:"column:has_water_service"`
	HasGarbageService   bool             `gorm:"column:has_garbage_service"`
	Balance             decimal.Decimal  `gorm:"column:balance"`
	LastMeterReading    *decimal.Decimal `gorm:"column:last_meter_reading"`
	CurrentMeterReading *decimal.Decimal `gorm:"column:current_meter_reading"`
	UpdatedAt           time.Time        `gorm:"column:updated_at"`
}

func (abonentRow) TableName() string { return "abonents" }

func abonentToRow(a billing.Abonent) abonentRow {
	return abonentRow{
		ID:                  a.ID,
		FullName:            a.FullName,
		Address:             a.Address,
		PersonalAccount:     a.PersonalAccount,
		ControllerName:      a.ControllerName,
		BuildingType:        string(a.BuildingType),
		WaterTariffType:     string(a.WaterTariffType),
		NumberOfPeople:      a.NumberOfPeople,
		HasGarden:           a.HasGarden,
		GardenSize:          a.GardenSize,
		HasWaterService:     a.HasWaterService,
		HasGarbageService:   a.HasGarbageService,
		Balance:             a.Balance,
		LastMeterReading:    a.LastMeterReading,
		CurrentMeterReading: a.CurrentMeterReading,
		UpdatedAt:           time.Now().UTC(),
	}
}

func (r abonentRow) toAbonent() billing.Abonent {
	return billing.Abonent{
		ID:                  r.ID,
		FullName:            r.FullName,
		Address:             r.Address,
		PersonalAccount:     r.PersonalAccount,
		ControllerName:      r.ControllerName,
		BuildingType:        billing.BuildingType(r.BuildingType),
		WaterTariffType:     billing.WaterTariffType(r.WaterTariffType),
		NumberOfPeople:      r.NumberOfPeople,
		HasGarden:           r.HasGarden,
		GardenSize:          r.GardenSize,
		HasWaterService:     r.HasWaterService,
		HasGarbageService:   r.HasGarbageService,
		Balance:             r.Balance,
		LastMeterReading:    r.LastMeterReading,
		CurrentMeterReading: r.CurrentMeterReading,
	}
}

type meterReadingRow struct {
	ID          uint            `gorm:"primaryKey;column:id"`
	AbonentID   string          `gorm:"index;column:abonent_id"`
	ReadingDate time.Time       `gorm:"column:reading_date"`
	Value       decimal.Decimal `gorm:"column:value"`
}

func (meterReadingRow) TableName() string { return "meter_readings" }

func (r meterReadingRow) toReading() *billing.MeterReading {
	return &billing.MeterReading{
		AbonentID: r.AbonentID,
		Date:      billing.Date{Time: r.ReadingDate.UTC()},
		Value:     r.Value,
	}
}

type paymentRow struct {
	ID        string          `gorm:"primaryKey;column:id"`
	AbonentID string          `gorm:"index;column:abonent_id"`
	PaidOn    time.Time       `gorm:"column:paid_on"`
	Amount    decimal.Decimal `gorm:"column:amount"`
}

func (paymentRow) TableName() string { return "payments" }

type recalculationRow struct {
	AbonentID string          `gorm:"primaryKey;column:abonent_id"`
	Period    string          `gorm:"primaryKey;column:period"`
	Water     decimal.Decimal `gorm:"column:water"`
	Sewerage  decimal.Decimal `gorm:"column:sewerage"`
	Garbage   decimal.Decimal `gorm:"column:garbage"`
}

func (recalculationRow) TableName() string { return "recalculations" }

type tariffRow struct {
	EffectiveDate        time.Time       `gorm:"primaryKey;column:effective_date"`
	WaterByMeterRate     decimal.Decimal `gorm:"column:water_by_meter_rate"`
	WaterByPersonRate    decimal.Decimal `gorm:"column:water_by_person_rate"`
	SewerageRate         decimal.Decimal `gorm:"column:sewerage_rate"`
	GarbagePrivateRate   decimal.Decimal `gorm:"column:garbage_private_rate"`
	GarbageApartmentRate decimal.Decimal `gorm:"column:garbage_apartment_rate"`
	SalesTaxPercent      decimal.Decimal `gorm:"column:sales_tax_percent"`
	PenaltyRatePercent   decimal.Decimal `gorm:"column:penalty_rate_percent"`
	// GardenRates is the JSON encoding of []billing.GardenRate.
	GardenRates string `gorm:"column:garden_rates"`
}

func (tariffRow) TableName() string { return "tariff_versions" }

func tariffToRow(v billing.TariffVersion) (tariffRow, error) {
	garden, err := json.Marshal(v.GardenRates)
	if err != nil {
		return tariffRow{}, fmt.Errorf("encode garden rates: %w", err)
	}
	return tariffRow{
		EffectiveDate:        v.EffectiveDate.UTC(),
		WaterByMeterRate:     v.WaterByMeterRate,
		WaterByPersonRate:    v.WaterByPersonRate,
		SewerageRate:         v.SewerageRate,
		GarbagePrivateRate:   v.GarbagePrivateRate,
		GarbageApartmentRate: v.GarbageApartmentRate,
		SalesTaxPercent:      v.SalesTaxPercent,
		PenaltyRatePercent:   v.PenaltyRatePercent,
		GardenRates:          string(garden),
	}, nil
}

func (r tariffRow) toTariff() (billing.TariffVersion, error) {
	v := billing.TariffVersion{
		EffectiveDate:        billing.Date{Time: r.EffectiveDate.UTC()},
		WaterByMeterRate:     r.WaterByMeterRate,
		WaterByPersonRate:    r.WaterByPersonRate,
		SewerageRate:         r.SewerageRate,
		GarbagePrivateRate:   r.GarbagePrivateRate,
		GarbageApartmentRate: r.GarbageApartmentRate,
		SalesTaxPercent:      r.SalesTaxPercent,
		PenaltyRatePercent:   r.PenaltyRatePercent,
	}
	if r.GardenRates != "" && r.GardenRates != "null" {
		if err := json.Unmarshal([]byte(r.GardenRates), &v.GardenRates); err != nil {
			return billing.TariffVersion{}, fmt.Errorf("decode garden rates for %s: %w", v.EffectiveDate, err)
		}
	}
	return v, nil
}

type settingRow struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (settingRow) TableName() string { return "settings" }
