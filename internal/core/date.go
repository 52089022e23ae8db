package core

import (
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Date is a calendar date without time of day or location.
type Date struct {
	civil.Date
}

var (
	ErrInvalidDate = errors.New("invalid date")
	ErrEmptyDate   = errors.New("date cannot be empty")
)

// Day-first layouts are the ones printed on invoices in the supported locales.
var dateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{civil.Date{Year: year, Month: time.Month(month), Day: day}}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date{civil.DateOf(t)}
}

// ParseDate accepts ISO dates, RFC 3339 timestamps and day-first
// numeric dates separated by '/', '-' or '.'.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrEmptyDate
	}
	if d, err := civil.ParseDate(s); err == nil {
		out := Date{d}
		return out, out.Validate()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		out := DateOf(t)
		return out, out.Validate()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := DateOf(t)
			return out, out.Validate()
		}
	}
	return Date{}, ErrInvalidDate
}

func (d Date) Validate() error {
	if d.IsEmpty() {
		return ErrEmptyDate
	}
	if !d.IsValid() || d.Year < 1900 || d.Year > 9999 {
		return ErrInvalidDate
	}
	return nil
}

// IsEmpty returns true if the date is unset (optional dates).
func (d Date) IsEmpty() bool {
	return d.Date == civil.Date{}
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return d.In(time.UTC)
}

func (d Date) String() string {
	if d.IsEmpty() {
		return ""
	}
	return d.Date.String()
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
