package tariffs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"

	"github.com/bher20/ebillmanager/internal/billing"
)

// ErrIncompleteNotice is returned when a notice lacks a required field.
var ErrIncompleteNotice = errors.New("tariffs: incomplete tariff notice")

func init() {
	RegisterFormat(Format{
		Key:       "standard",
		Name:      "Published municipal tariff notice",
		ParseText: ParseNoticeText,
	})
}

var (
	effectiveRe = regexp.MustCompile(`(?i)effective(?:\s+from|\s+date)?\s*:?\s*(\d{4}-\d{2}-\d{2}|\d{2}\.\d{2}\.\d{4})`)
	numberPat   = `(\d+(?:[.,]\d+)?|[.,]\d+)`

	noticeFields = []struct {
		name     string
		re       *regexp.Regexp
		required bool
		set      func(v *billing.TariffVersion, d decimal.Decimal)
	}{
		{"water by meter", regexp.MustCompile(`(?i)water\s*\((?:metered|by meter)\)\s*:?\s*` + numberPat), true,
			func(v *billing.TariffVersion, d decimal.Decimal) { v.WaterByMeterRate = d }},
		{"water by person", regexp.MustCompile(`(?i)water\s*\((?:per person|by person)\)\s*:?\s*` + numberPat), true,
			func(v *billing.TariffVersion, d decimal.Decimal) { v.WaterByPersonRate = d }},
		{"sewerage", regexp.MustCompile(`(?i)sewerage\s*:?\s*` + numberPat), false,
			func(v *billing.TariffVersion, d decimal.Decimal) { v.SewerageRate = d }},
		{"garbage private", regexp.MustCompile(`(?i)garbage\s*\(private(?: house)?\)\s*:?\s*` + numberPat), true,
			func(v *billing.TariffVersion, d decimal.Decimal) { v.GarbagePrivateRate = d }},
		{"garbage apartment", regexp.MustCompile(`(?i)garbage\s*\(apartment\)\s*:?\s*` + numberPat), true,
			func(v *billing.TariffVersion, d decimal.Decimal) { v.GarbageApartmentRate = d }},
	}

	taxRe     = regexp.MustCompile(`(?i)sales\s+tax\s*:?\s*` + numberPat + `\s*(%)?`)
	penaltyRe = regexp.MustCompile(`(?i)(?:late\s+payment\s+)?penalty\s*:?\s*` + numberPat + `\s*(%)?`)
	gardenRe  = regexp.MustCompile(`(?im)^\s*garden\s+` + numberPat + `\s*:?\s*` + numberPat)
)

// ParseNoticePDF extracts the text of a tariff notice PDF and parses it with
// the named format.
func ParseNoticePDF(path, format string) (billing.TariffVersion, error) {
	f, ok := GetFormat(format)
	if !ok {
		return billing.TariffVersion{}, fmt.Errorf("no notice format registered: %s", format)
	}
	fh, r, err := pdf.Open(path)
	if err != nil {
		return billing.TariffVersion{}, fmt.Errorf("open pdf: %w", err)
	}
	defer fh.Close()

	rc, err := r.GetPlainText()
	if err != nil {
		return billing.TariffVersion{}, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return billing.TariffVersion{}, fmt.Errorf("read pdf text: %w", err)
	}
	return f.ParseText(buf.String())
}

// ParseNoticeText parses the plain text of a tariff notice. A value written
// with a "%" sign is a whole percent; one written without is a fraction.
// Missing required fields are an error, never a zero rate.
func ParseNoticeText(text string) (billing.TariffVersion, error) {
	var v billing.TariffVersion

	m := effectiveRe.FindStringSubmatch(text)
	if m == nil {
		return v, fmt.Errorf("%w: effective date", ErrIncompleteNotice)
	}
	date, err := parseNoticeDate(m[1])
	if err != nil {
		return v, err
	}
	v.EffectiveDate = date

	var missing []string
	for _, f := range noticeFields {
		d, ok, err := firstNumber(f.re, text)
		if err != nil {
			return v, fmt.Errorf("%s: %w", f.name, err)
		}
		if !ok {
			if f.required {
				missing = append(missing, f.name)
			}
			continue
		}
		f.set(&v, d)
	}

	for _, pf := range []struct {
		name string
		re   *regexp.Regexp
		dst  *decimal.Decimal
	}{
		{"sales tax", taxRe, &v.SalesTaxPercent},
		{"penalty", penaltyRe, &v.PenaltyRatePercent},
	} {
		d, ok, err := noticePercent(pf.re, text, pf.name)
		if err != nil {
			return v, err
		}
		if !ok {
			missing = append(missing, pf.name)
			continue
		}
		*pf.dst = d
	}
	if len(missing) > 0 {
		return v, fmt.Errorf("%w: %s", ErrIncompleteNotice, strings.Join(missing, ", "))
	}

	for _, g := range gardenRe.FindAllStringSubmatch(text, -1) {
		size, err := parseNumber(g[1])
		if err != nil {
			return v, fmt.Errorf("garden size: %w", err)
		}
		rate, err := parseNumber(g[2])
		if err != nil {
			return v, fmt.Errorf("garden rate: %w", err)
		}
		v.GardenRates = append(v.GardenRates, billing.GardenRate{Size: size, Rate: rate})
	}

	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}

func noticePercent(re *regexp.Regexp, text, name string) (decimal.Decimal, bool, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false, nil
	}
	d, err := parseNumber(m[1])
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%s: %w", name, err)
	}
	if m[2] == "%" {
		return d.Div(hundred), true, nil
	}
	if d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, false, fmt.Errorf("%w: %s %s written without a %% sign", ErrAmbiguousPercent, name, d)
	}
	return d, true, nil
}

func firstNumber(re *regexp.Regexp, s string) (decimal.Decimal, bool, error) {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return decimal.Zero, false, nil
	}
	d, err := parseNumber(m[1])
	return d, err == nil, err
}

func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	return decimal.NewFromString(s)
}

func parseNoticeDate(s string) (billing.Date, error) {
	for _, layout := range []string{"2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return billing.Date{Time: t.UTC()}, nil
		}
	}
	return billing.Date{}, fmt.Errorf("unrecognized effective date %q", s)
}
