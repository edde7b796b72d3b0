package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTariffAvailable is returned when no tariff version is effective for a period.
	ErrNoTariffAvailable = errors.New("billing: no tariff available")
	// ErrMissingMeterReading is returned when a meter-based abonent lacks a reading.
	ErrMissingMeterReading = errors.New("billing: missing meter reading")
	// ErrUnknownGardenSize is returned when a garden size has no rate in the tariff.
	ErrUnknownGardenSize = errors.New("billing: unknown garden size")
	// ErrIncompleteAbonentProfile is returned when the personal account or
	// controller name cannot be resolved.
	ErrIncompleteAbonentProfile = errors.New("billing: incomplete abonent profile")
	// ErrInvalidBalanceState is returned when a balance cannot be attributed to
	// any active service.
	ErrInvalidBalanceState = errors.New("billing: invalid balance state")
	// ErrInvalidInput is returned when the abonent snapshot fails validation.
	ErrInvalidInput = errors.New("billing: invalid input")
	// ErrInvalidTariff is returned when a tariff version is malformed.
	ErrInvalidTariff = errors.New("billing: invalid tariff")
	// ErrInvalidRecalculation is returned when a manual adjustment would drive a
	// service total below zero.
	ErrInvalidRecalculation = errors.New("billing: invalid recalculation")
	// ErrInvalidPeriod is returned when a billing period is missing or malformed.
	ErrInvalidPeriod = errors.New("billing: invalid period")
)

// Stage names a step of the receipt pipeline.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageTariff      Stage = "tariff"
	StageConsumption Stage = "consumption"
	StageDebt        Stage = "debt"
	StageCharge      Stage = "charge"
	StageAssemble    Stage = "assemble"
)

// AbonentError reports which abonent and which pipeline stage failed.
type AbonentError struct {
	AbonentID string
	Stage     Stage
	Err       error
}

func (e *AbonentError) Error() string {
	return fmt.Sprintf("abonent %s: %s: %v", e.AbonentID, e.Stage, e.Err)
}

func (e *AbonentError) Unwrap() error { return e.Err }

func wrap(abonentID string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &AbonentError{AbonentID: abonentID, Stage: stage, Err: err}
}

// ErrorKind maps an engine error to a short label suitable for metrics and
// alert payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTariffAvailable):
		return "no_tariff"
	case errors.Is(err, ErrMissingMeterReading):
		return "missing_meter_reading"
	case errors.Is(err, ErrUnknownGardenSize):
		return "unknown_garden_size"
	case errors.Is(err, ErrIncompleteAbonentProfile):
		return "incomplete_profile"
	case errors.Is(err, ErrInvalidBalanceState):
		return "invalid_balance"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidTariff):
		return "invalid_tariff"
	case errors.Is(err, ErrInvalidRecalculation):
		return "invalid_recalculation"
	case errors.Is(err, ErrInvalidPeriod):
		return "invalid_period"
	default:
		return "other"
	}
}

// IsDataQuality reports whether err is one of the engine's local data-quality
// failures, as opposed to an infrastructure error from the calling layer.
func IsDataQuality(err error) bool {
	k := ErrorKind(err)
	return k != "" && k != "other"
}
