package billing

import (
	"github.com/shopspring/decimal"
)

// BuildingType distinguishes private houses from apartments.
type BuildingType string

const (
	BuildingPrivate   BuildingType = "private"
	BuildingApartment BuildingType = "apartment"
)

// WaterTariffType selects how water consumption is measured.
type WaterTariffType string

const (
	WaterByMeter  WaterTariffType = "by_meter"
	WaterByPerson WaterTariffType = "by_person"
)

// Abonent is a read-only snapshot of a billed household account. Balance is
// signed: a negative balance is debt owed by the abonent.
type Abonent struct {
	ID              string          `json:"id" yaml:"id" validate:"required"`
	FullName        string          `json:"full_name" yaml:"full_name"`
	Address         string          `json:"address" yaml:"address"`
	PersonalAccount string          `json:"personal_account,omitempty" yaml:"personal_account,omitempty"`
	ControllerName  string          `json:"controller_name,omitempty" yaml:"controller_name,omitempty"`
	BuildingType    BuildingType    `json:"building_type" yaml:"building_type" validate:"required,oneof=private apartment"`
	WaterTariffType WaterTariffType `json:"water_tariff_type,omitempty" yaml:"water_tariff_type,omitempty" validate:"omitempty,oneof=by_meter by_person"`
	NumberOfPeople  int             `json:"number_of_people" yaml:"number_of_people" validate:"gte=0,lte=1000"`

	HasGarden  bool             `json:"has_garden" yaml:"has_garden"`
	GardenSize *decimal.Decimal `json:"garden_size,omitempty" yaml:"garden_size,omitempty"`

	HasWaterService   bool `json:"has_water_service" yaml:"has_water_service"`
	HasGarbageService bool `json:"has_garbage_service" yaml:"has_garbage_service"`

	Balance decimal.Decimal `json:"balance" yaml:"balance"`

	LastMeterReading    *decimal.Decimal `json:"last_meter_reading,omitempty" yaml:"last_meter_reading,omitempty"`
	CurrentMeterReading *decimal.Decimal `json:"current_meter_reading,omitempty" yaml:"current_meter_reading,omitempty"`
}

// MeterReading is one entry of an abonent's append-only reading series.
type MeterReading struct {
	AbonentID string          `json:"abonent_id" yaml:"abonent_id"`
	Date      Date            `json:"date" yaml:"date"`
	Value     decimal.Decimal `json:"value" yaml:"value"`
}

// ReadingPair holds the readings bracketing a billing period. Either side may
// be absent.
type ReadingPair struct {
	Previous *MeterReading `json:"previous,omitempty" yaml:"previous,omitempty"`
	Current  *MeterReading `json:"current,omitempty" yaml:"current,omitempty"`
}

// Recalculation is an externally supplied manual adjustment per service. It is
// subtracted from the service total.
type Recalculation struct {
	Water    decimal.Decimal `json:"water" yaml:"water"`
	Sewerage decimal.Decimal `json:"sewerage" yaml:"sewerage"`
	Garbage  decimal.Decimal `json:"garbage" yaml:"garbage"`
}

// Input is everything the engine needs to compute one receipt.
type Input struct {
	Abonent Abonent         `json:"abonent" yaml:"abonent"`
	Period  Period          `json:"period" yaml:"period"`
	Tariffs []TariffVersion `json:"tariffs" yaml:"tariffs"`
	// Readings overrides the abonent's last/current reading fields side by
	// side. An absent side keeps the record's value.
	Readings       *ReadingPair    `json:"readings,omitempty" yaml:"readings,omitempty"`
	Recalculation  *Recalculation  `json:"recalculation,omitempty" yaml:"recalculation,omitempty"`
	PeriodPayments decimal.Decimal `json:"period_payments" yaml:"period_payments"`
}

func (in Input) readings() (previous, current *decimal.Decimal) {
	previous, current = in.Abonent.LastMeterReading, in.Abonent.CurrentMeterReading
	if in.Readings == nil {
		return previous, current
	}
	if in.Readings.Previous != nil {
		v := in.Readings.Previous.Value
		previous = &v
	}
	if in.Readings.Current != nil {
		v := in.Readings.Current.Value
		current = &v
	}
	return previous, current
}
