// Package tariffs loads, imports and serves the versioned tariff history.
package tariffs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bher20/ebillmanager/internal/billing"
)

// PercentScale declares how percent fields are written in a tariff source.
type PercentScale string

const (
	// ScaleFraction means 3% is written as 0.03. This is the default.
	ScaleFraction PercentScale = "fraction"
	// ScaleWhole means 3% is written as 3.
	ScaleWhole PercentScale = "whole"
)

// ErrAmbiguousPercent is returned when a fractional source carries a percent
// value of 1 or more, which would otherwise be a silent 100x error.
var ErrAmbiguousPercent = errors.New("tariffs: ambiguous percent value")

var hundred = decimal.NewFromInt(100)

// Options control tariff loading.
type Options struct {
	PercentScale PercentScale
}

type historyDoc struct {
	Tariffs []billing.TariffVersion `yaml:"tariffs" json:"tariffs"`
}

// LoadHistory decodes a tariff history document. Both a bare list and a
// mapping with a "tariffs" key are accepted, in YAML or JSON. Percents are
// normalized to fractions and the history is validated and sorted.
func LoadHistory(r io.Reader, opts Options) ([]billing.TariffVersion, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tariff history: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode tariff history: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var versions []billing.TariffVersion
	switch doc := root.Content[0]; doc.Kind {
	case yaml.SequenceNode:
		err = doc.Decode(&versions)
	case yaml.MappingNode:
		var h historyDoc
		err = doc.Decode(&h)
		versions = h.Tariffs
	default:
		err = fmt.Errorf("expected a list or a mapping, got %s", doc.Tag)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tariff history: %w", err)
	}

	for i := range versions {
		if err := Normalize(&versions[i], opts.PercentScale); err != nil {
			return nil, err
		}
	}
	if err := billing.ValidateHistory(versions); err != nil {
		return nil, err
	}
	return billing.SortHistory(versions), nil
}

// LoadHistoryFile opens path and calls LoadHistory.
func LoadHistoryFile(path string, opts Options) ([]billing.TariffVersion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tariff history: %w", err)
	}
	defer f.Close()
	return LoadHistory(f, opts)
}

// Normalize converts the percent fields of v to fractions according to scale.
func Normalize(v *billing.TariffVersion, scale PercentScale) error {
	for _, f := range []struct {
		name string
		p    *decimal.Decimal
	}{
		{"sales_tax_percent", &v.SalesTaxPercent},
		{"penalty_rate_percent", &v.PenaltyRatePercent},
	} {
		switch scale {
		case ScaleWhole:
			*f.p = f.p.Div(hundred)
		case ScaleFraction, "":
			if f.p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				return fmt.Errorf("%w: %s=%s in %s; use percent scale %q if the source writes whole percents",
					ErrAmbiguousPercent, f.name, f.p, v.EffectiveDate, ScaleWhole)
			}
		default:
			return fmt.Errorf("unknown percent scale %q", scale)
		}
	}
	return nil
}

// WriteHistory encodes versions as a YAML history document with fractional
// percents.
func WriteHistory(w io.Writer, versions []billing.TariffVersion) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(historyDoc{Tariffs: billing.SortHistory(versions)}); err != nil {
		return fmt.Errorf("encode tariff history: %w", err)
	}
	return enc.Close()
}

// SaveHistoryFile writes the history to path atomically.
func SaveHistoryFile(path string, versions []billing.TariffVersion) error {
	var buf bytes.Buffer
	if err := WriteHistory(&buf, versions); err != nil {
		return err
	}
	return writeFileAtomically(path, &buf)
}

func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
