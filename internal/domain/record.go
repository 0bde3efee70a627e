package domain

import (
	"sort"

	"golang.org/x/xerrors"
)

const (
	// WeekDays is the length of the weekly trailing window.
	WeekDays = 7
	// MonthDays is the length of the monthly trailing window.
	MonthDays = 30
)

// Record is the aggregate keystroke state. It never holds key identity.
type Record struct {
	Total uint64          `json:"total"`
	Daily map[Date]uint64 `json:"daily"`
}

// DayCount pairs a day with its count.
type DayCount struct {
	Date  Date   `json:"date"`
	Count uint64 `json:"count"`
}

// NewRecord returns an empty record with a usable daily map.
func NewRecord() Record {
	return Record{Daily: make(map[Date]uint64)}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := Record{
		Total: r.Total,
		Daily: make(map[Date]uint64, len(r.Daily)),
	}
	for d, n := range r.Daily {
		c.Daily[d] = n
	}
	return c
}

// Sum adds up all daily buckets.
func (r Record) Sum() uint64 {
	var sum uint64
	for _, n := range r.Daily {
		sum += n
	}
	return sum
}

// Validate checks that every key is a canonical date and that Total equals
// the sum of the daily buckets.
func (r Record) Validate() error {
	for d := range r.Daily {
		if !d.Valid() {
			return xerrors.Errorf("invalid daily key %q", string(d))
		}
	}
	if sum := r.Sum(); sum != r.Total {
		return xerrors.Errorf("total %d does not match daily sum %d", r.Total, sum)
	}
	return nil
}

// Window sums the buckets in the inclusive range [ref-days+1, ref].
func (r Record) Window(ref Date, days int) uint64 {
	if days <= 0 {
		return 0
	}
	from := ref.AddDays(-(days - 1))
	var sum uint64
	for d, n := range r.Daily {
		if d >= from && d <= ref {
			sum += n
		}
	}
	return sum
}

// Weekly is the trailing 7-day sum ending on ref.
func (r Record) Weekly(ref Date) uint64 {
	return r.Window(ref, WeekDays)
}

// Monthly is the trailing 30-day sum ending on ref.
func (r Record) Monthly(ref Date) uint64 {
	return r.Window(ref, MonthDays)
}

// Series returns one entry per calendar day of the trailing window ending on
// ref, oldest first. Days without keystrokes are reported as zero.
func (r Record) Series(ref Date, days int) []DayCount {
	if days <= 0 {
		return nil
	}
	out := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := ref.AddDays(-i)
		out = append(out, DayCount{Date: d, Count: r.Daily[d]})
	}
	return out
}

// Days returns every recorded day, newest first.
func (r Record) Days() []DayCount {
	out := make([]DayCount, 0, len(r.Daily))
	for d, n := range r.Daily {
		out = append(out, DayCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}
