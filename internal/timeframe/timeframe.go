package timeframe

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day key used by rollups and reports.
const DateLayout = "2006-01-02"

// Report window bounds, in days.
const (
	MinDays     = 1
	MaxDays     = 365
	DefaultDays = 30
)

type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

func (DefaultTimeProvider) Now() time.Time {
	return time.Now().UTC()
}

// FixedTimeProvider always returns the same instant; used by tests and backfills.
type FixedTimeProvider struct {
	At time.Time
}

func (p FixedTimeProvider) Now() time.Time {
	return p.At.UTC()
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats t's UTC calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as midnight UTC.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}

// ClampDays bounds a requested window to MinDays..MaxDays; non-positive input uses def.
func ClampDays(days, def int) int {
	if def < MinDays || def > MaxDays {
		def = DefaultDays
	}
	if days <= 0 {
		return def
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

// DayRange is a contiguous run of UTC calendar days, inclusive at both ends.
type DayRange struct {
	First time.Time
	Last  time.Time
}

// LastNDays returns the range ending on now's day and covering exactly n days.
func LastNDays(now time.Time, n int) DayRange {
	if n < 1 {
		n = 1
	}
	last := StartOfDay(now)
	return DayRange{First: last.AddDate(0, 0, -(n - 1)), Last: last}
}

// NewDayRange builds an inclusive range from two days in either order.
func NewDayRange(a, b time.Time) DayRange {
	a, b = StartOfDay(a), StartOfDay(b)
	if b.Before(a) {
		a, b = b, a
	}
	return DayRange{First: a, Last: b}
}

// ParseDayRange parses inclusive YYYY-MM-DD bounds.
func ParseDayRange(from, to string) (DayRange, error) {
	first, err := ParseDateKey(from)
	if err != nil {
		return DayRange{}, err
	}
	last, err := ParseDateKey(to)
	if err != nil {
		return DayRange{}, err
	}
	if last.Before(first) {
		return DayRange{}, fmt.Errorf("range end %s is before start %s", to, from)
	}
	return DayRange{First: first, Last: last}, nil
}

// Days lists every day in the range, ascending.
func (r DayRange) Days() []time.Time {
	var days []time.Time
	for d := r.First; !d.After(r.Last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of days in the range.
func (r DayRange) Len() int {
	return int(r.Last.Sub(r.First).Hours()/24) + 1
}

// Start is the first instant of the range.
func (r DayRange) Start() time.Time {
	return r.First
}

// End is the exclusive upper bound of the range.
func (r DayRange) End() time.Time {
	return r.Last.AddDate(0, 0, 1)
}

// FirstKey and LastKey format the bounds as date keys.
func (r DayRange) FirstKey() string { return DateKey(r.First) }
func (r DayRange) LastKey() string  { return DateKey(r.Last) }
