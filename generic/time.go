package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (occurrences never carry a time of day)
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsZero() bool          { return d.Time.IsZero() }

// IsWeekend reports Saturday or Sunday. Public holidays are not modeled.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) IsBusinessDay() bool { return !d.IsWeekend() }

func (d Date) String() string {
	return d.Time.Format(DateLayout)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current instant. Services take one so tests can pin
// "the current calendar year".
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// CurrentYear returns the calendar year of c, falling back to the wall clock.
func (c Clock) CurrentYear() int {
	if c == nil {
		return time.Now().Year()
	}
	return c().Year()
}

// =============================================================================
// CALENDAR UTILITIES
// =============================================================================

func StartOfYear(year int) Date                    { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date                      { return NewDate(year, time.December, 31) }
func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

// EndOfMonth is leap-year aware: day 0 of the next month is the last day of this one.
func EndOfMonth(year int, month time.Month) Date {
	return Date{Time: time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)}
}

func DaysInMonth(year int, month time.Month) int {
	return EndOfMonth(year, month).Day()
}
