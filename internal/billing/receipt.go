package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReceiptChargeItem is one presented service charge. All amounts are final.
type ReceiptChargeItem struct {
	Debt          decimal.Decimal `json:"debt"`
	Paid          decimal.Decimal `json:"paid"`
	Consumption   decimal.Decimal `json:"consumption"`
	Accrued       decimal.Decimal `json:"accrued"`
	Tax           decimal.Decimal `json:"tax"`
	Recalculation decimal.Decimal `json:"recalculation"`
	Penalty       decimal.Decimal `json:"penalty"`
	Total         decimal.Decimal `json:"total"`
}

// CompanySettings is the provider metadata printed on every receipt.
type CompanySettings struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Address     string `json:"address" yaml:"address" mapstructure:"address"`
	Phone       string `json:"phone" yaml:"phone" mapstructure:"phone"`
	BankDetails string `json:"bank_details" yaml:"bank_details" mapstructure:"bank_details"`
	TaxID       string `json:"tax_id" yaml:"tax_id" mapstructure:"tax_id"`
}

// WaterService is the water and sewerage section of a receipt.
type WaterService struct {
	TariffType      WaterTariffType   `json:"tariff_type"`
	PreviousReading *decimal.Decimal  `json:"previous_reading,omitempty"`
	CurrentReading  *decimal.Decimal  `json:"current_reading,omitempty"`
	GardenCharge    decimal.Decimal   `json:"garden_charge"`
	Water           ReceiptChargeItem `json:"water"`
	Sewerage        ReceiptChargeItem `json:"sewerage"`
	Total           decimal.Decimal   `json:"total"`
}

// GarbageService is the garbage collection section of a receipt.
type GarbageService struct {
	BuildingType BuildingType      `json:"building_type"`
	Garbage      ReceiptChargeItem `json:"garbage"`
	Total        decimal.Decimal   `json:"total"`
}

// ReceiptDetails is the assembled, render-ready receipt of one abonent for
// one period.
type ReceiptDetails struct {
	Abonent             Abonent         `json:"abonent"`
	Period              Period          `json:"period"`
	PersonalAccount     string          `json:"personal_account"`
	ControllerName      string          `json:"controller_name"`
	Company             CompanySettings `json:"company"`
	TariffEffectiveDate Date            `json:"tariff_effective_date"`
	WaterService        *WaterService   `json:"water_service,omitempty"`
	GarbageService      *GarbageService `json:"garbage_service,omitempty"`
	TotalToPay          decimal.Decimal `json:"total_to_pay"`
}

// Assemble merges computed charges with abonent and company metadata. It
// performs no billing arithmetic beyond presentation rounding and summing the
// presented section totals.
func (e *Engine) Assemble(in Input, tariff TariffVersion, charges Charges) (*ReceiptDetails, error) {
	account, err := e.personalAccount(in.Abonent)
	if err != nil {
		return nil, err
	}
	controller, err := e.controllerName(in.Abonent)
	if err != nil {
		return nil, err
	}

	r := &ReceiptDetails{
		Abonent:             in.Abonent,
		Period:              in.Period,
		PersonalAccount:     account,
		ControllerName:      controller,
		Company:             e.cfg.Company,
		TariffEffectiveDate: tariff.EffectiveDate,
		TotalToPay:          decimal.Zero,
	}

	if in.Abonent.HasWaterService {
		if charges.Water == nil || charges.Sewerage == nil {
			return nil, fmt.Errorf("%w: water charges missing", ErrInvalidInput)
		}
		ws := &WaterService{
			TariffType:      in.Abonent.WaterTariffType,
			PreviousReading: charges.WaterUsage.PreviousReading,
			CurrentReading:  charges.WaterUsage.CurrentReading,
			GardenCharge:    charges.GardenCharge.Round(MoneyPlaces),
			Water:           charges.Water.Present(),
			Sewerage:        charges.Sewerage.Present(),
		}
		ws.Total = ws.Water.Total.Add(ws.Sewerage.Total)
		r.WaterService = ws
		r.TotalToPay = r.TotalToPay.Add(ws.Total)
	}

	if in.Abonent.HasGarbageService {
		if charges.Garbage == nil {
			return nil, fmt.Errorf("%w: garbage charges missing", ErrInvalidInput)
		}
		gs := &GarbageService{
			BuildingType: in.Abonent.BuildingType,
			Garbage:      charges.Garbage.Present(),
		}
		gs.Total = gs.Garbage.Total
		r.GarbageService = gs
		r.TotalToPay = r.TotalToPay.Add(gs.Total)
	}
	return r, nil
}

func (e *Engine) personalAccount(a Abonent) (string, error) {
	if a.PersonalAccount != "" {
		return a.PersonalAccount, nil
	}
	if e.cfg.DefaultAccountPrefix != "" {
		return e.cfg.DefaultAccountPrefix + a.ID, nil
	}
	return "", fmt.Errorf("%w: personal account", ErrIncompleteAbonentProfile)
}

func (e *Engine) controllerName(a Abonent) (string, error) {
	if a.ControllerName != "" {
		return a.ControllerName, nil
	}
	if e.cfg.DefaultControllerName != "" {
		return e.cfg.DefaultControllerName, nil
	}
	return "", fmt.Errorf("%w: controller name", ErrIncompleteAbonentProfile)
}
