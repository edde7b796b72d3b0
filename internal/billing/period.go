package billing

import (
	"fmt"
	"time"
)

const (
	periodLayout = "2006-01"
	dateLayout   = "2006-01-02"
)

// Period is a calendar billing month.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod builds a Period, rejecting out-of-range months.
func NewPeriod(year int, month time.Month) (Period, error) {
	if year < 1 || month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: %04d-%02d", ErrInvalidPeriod, year, int(month))
	}
	return Period{Year: year, Month: month}, nil
}

// ParsePeriod parses a "YYYY-MM" identifier.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the period containing t (in UTC).
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: u.Month()}
}

// Start is the first instant of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Previous returns the preceding month.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Date is a calendar day serialized as "YYYY-MM-DD".
type Date struct {
	time.Time
}

// NewDate returns the UTC midnight of the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a "YYYY-MM-DD" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", b)
	}
	return d.UnmarshalText(b[1 : len(b)-1])
}
