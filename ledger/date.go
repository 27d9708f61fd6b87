package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// BUSINESS DATE - Calendar day a payment was collected
// =============================================================================

// DateLayout is the wire and storage layout for business dates.
const DateLayout = "2006-01-02"

// BusinessDate is a calendar day with no time-of-day component, always UTC.
type BusinessDate struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) BusinessDate {
	return BusinessDate{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) BusinessDate {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (BusinessDate, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return BusinessDate{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return BusinessDate{Time: t}, nil
}

func (d BusinessDate) IsZero() bool { return d.Time.IsZero() }
func (d BusinessDate) String() string { return d.Time.Format(DateLayout) }
func (d BusinessDate) Before(other BusinessDate) bool { return d.Time.Before(other.Time) }
func (d BusinessDate) After(other BusinessDate) bool { return d.Time.After(other.Time) }
func (d BusinessDate) Equal(other BusinessDate) bool { return d.Time.Equal(other.Time) }

func (d BusinessDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *BusinessDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = BusinessDate{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
