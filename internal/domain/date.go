package domain

import (
	"time"

	"golang.org/x/xerrors"
)

// DateLayout is the on-disk representation of a calendar day.
const DateLayout = "2006-01-02"

// Date is a calendar day in the host's local timezone, formatted YYYY-MM-DD.
// The layout sorts lexicographically in chronological order.
type Date string

// DateOf returns the local calendar day t falls on.
func DateOf(t time.Time) Date {
	return Date(t.Local().Format(DateLayout))
}

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return "", xerrors.Errorf("parse date %q: %w", s, err)
	}
	// Reject non-canonical spellings so map keys stay unique.
	if t.Format(DateLayout) != s {
		return "", xerrors.Errorf("parse date %q: not in %s form", s, DateLayout)
	}
	return Date(s), nil
}

// Time returns local midnight of d.
func (d Date) Time() (time.Time, error) {
	return time.ParseInLocation(DateLayout, string(d), time.Local)
}

// AddDays shifts d by n calendar days. An unparseable date is returned as is.
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return Date(t.AddDate(0, 0, n).Format(DateLayout))
}

// Valid reports whether d parses as a canonical date.
func (d Date) Valid() bool {
	_, err := ParseDate(string(d))
	return err == nil
}

func (d Date) String() string {
	return string(d)
}
