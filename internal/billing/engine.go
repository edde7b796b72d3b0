package billing

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Config holds the engine constants that are policy rather than tariff data.
type Config struct {
	// PersonNorm is the monthly water norm per resident in m³.
	PersonNorm decimal.Decimal
	Weights    AllocationWeights
	// DefaultControllerName and DefaultAccountPrefix are used when the abonent
	// record leaves the corresponding field empty.
	DefaultControllerName string
	DefaultAccountPrefix  string
	Company               CompanySettings
}

// DefaultConfig returns the parity constants: 3 m³ per person and the
// 49/21/30 and 70/30 debt weights. No defaults are set for the controller
// name or account prefix.
func DefaultConfig() Config {
	return Config{
		PersonNorm: DefaultPersonNorm,
		Weights:    DefaultWeights(),
	}
}

// Engine computes receipts. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg      Config
	validate *validator.Validate
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.PersonNorm.IsNegative() {
		return nil, fmt.Errorf("billing config: negative person norm %s", cfg.PersonNorm)
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("billing config: %w", err)
	}
	return &Engine{cfg: cfg, validate: validator.New()}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Compute runs the full pipeline for one abonent and one period. Any failure
// is returned as an *AbonentError and no partial receipt is produced.
func (e *Engine) Compute(in Input) (*ReceiptDetails, error) {
	id := in.Abonent.ID
	if err := e.Validate(in); err != nil {
		return nil, wrap(id, StageValidate, err)
	}

	tariff, err := ResolveTariff(in.Period, in.Tariffs)
	if err != nil {
		return nil, wrap(id, StageTariff, err)
	}

	// The garden size is resolved even without water service so that a bad
	// size is reported rather than dropped.
	garden, err := GardenCharge(in.Abonent, tariff)
	if err != nil {
		return nil, wrap(id, StageConsumption, err)
	}
	if in.Abonent.HasGarden && !in.Abonent.HasWaterService {
		return nil, wrap(id, StageConsumption, fmt.Errorf("%w: garden irrigation requires water service", ErrInvalidInput))
	}
	var usage WaterConsumption
	if in.Abonent.HasWaterService {
		if usage, err = e.waterConsumption(in); err != nil {
			return nil, wrap(id, StageConsumption, err)
		}
	}

	hasWater, hasGarbage := in.Abonent.HasWaterService, in.Abonent.HasGarbageService
	debt, err := AllocateDebt(in.Abonent.Balance, hasWater, hasGarbage, e.cfg.Weights)
	if err != nil {
		return nil, wrap(id, StageDebt, err)
	}
	var paid Allocation
	if in.PeriodPayments.IsPositive() && (hasWater || hasGarbage) {
		if paid, err = Split(in.PeriodPayments, hasWater, hasGarbage, e.cfg.Weights); err != nil {
			return nil, wrap(id, StageDebt, err)
		}
	}

	charges, err := e.computeCharges(in, tariff, usage, garden, debt, paid)
	if err != nil {
		return nil, wrap(id, StageCharge, err)
	}

	receipt, err := e.Assemble(in, tariff, charges)
	if err != nil {
		return nil, wrap(id, StageAssemble, err)
	}
	return receipt, nil
}

// Validate checks an input at the engine boundary. Optional data that the
// abonent's services require must be present; nothing is coerced to zero.
func (e *Engine) Validate(in Input) error {
	if err := e.validate.Struct(in.Abonent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	a := in.Abonent
	if in.Period.IsZero() {
		return fmt.Errorf("%w: period is required", ErrInvalidPeriod)
	}
	if a.HasWaterService && a.WaterTariffType == "" {
		return fmt.Errorf("%w: water tariff type is required for water service", ErrInvalidInput)
	}
	if a.HasGarden && a.GardenSize == nil {
		return fmt.Errorf("%w: garden size not set", ErrUnknownGardenSize)
	}
	if a.HasGarbageService && a.BuildingType == BuildingApartment && a.NumberOfPeople == 0 {
		return fmt.Errorf("%w: apartment garbage service requires number of people", ErrInvalidInput)
	}
	if in.PeriodPayments.IsNegative() {
		return fmt.Errorf("%w: negative period payments %s", ErrInvalidInput, in.PeriodPayments)
	}
	// Debt portions must sum to |balance| exactly, which needs whole cents.
	if !isWholeCents(a.Balance) {
		return fmt.Errorf("%w: balance %s has sub-cent precision", ErrInvalidInput, a.Balance)
	}
	if !isWholeCents(in.PeriodPayments) {
		return fmt.Errorf("%w: period payments %s have sub-cent precision", ErrInvalidInput, in.PeriodPayments)
	}
	if r := in.Recalculation; r != nil {
		if !a.HasWaterService && !(r.Water.IsZero() && r.Sewerage.IsZero()) {
			return fmt.Errorf("%w: water recalculation without water service", ErrInvalidRecalculation)
		}
		if !a.HasGarbageService && !r.Garbage.IsZero() {
			return fmt.Errorf("%w: garbage recalculation without garbage service", ErrInvalidRecalculation)
		}
	}
	return ValidateHistory(in.Tariffs)
}

func isWholeCents(d decimal.Decimal) bool { return d.Equal(d.Round(MoneyPlaces)) }
