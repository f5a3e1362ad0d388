package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY SELECTION - Which day of a period's month an occurrence lands on
// =============================================================================

type DayPolicy string

const (
	LastBusinessDay  DayPolicy = "last_business_day"
	FirstBusinessDay DayPolicy = "first_business_day"
	LastCalendarDay  DayPolicy = "last_calendar_day"
	FirstCalendarDay DayPolicy = "first_calendar_day"
	SpecificDay      DayPolicy = "specific_day"
)

// DaySelection is a DayPolicy plus, for SpecificDay, the day of month (1-31).
type DaySelection struct {
	Policy DayPolicy
	Day    int
}

func OnLastBusinessDay() DaySelection  { return DaySelection{Policy: LastBusinessDay} }
func OnFirstBusinessDay() DaySelection { return DaySelection{Policy: FirstBusinessDay} }
func OnLastCalendarDay() DaySelection  { return DaySelection{Policy: LastCalendarDay} }
func OnFirstCalendarDay() DaySelection { return DaySelection{Policy: FirstCalendarDay} }
func OnDay(n int) DaySelection         { return DaySelection{Policy: SpecificDay, Day: n} }

// Validate checks the policy is known and a specific day is within 1-31.
func (ds DaySelection) Validate() error {
	switch ds.Policy {
	case LastBusinessDay, FirstBusinessDay, LastCalendarDay, FirstCalendarDay:
		return nil
	case SpecificDay:
		if ds.Day < 1 || ds.Day > 31 {
			return &InvalidRuleError{Field: "day", Reason: fmt.Sprintf("specific day must be 1..31, got %d", ds.Day)}
		}
		return nil
	default:
		return &InvalidRuleError{Field: "day_selection", Reason: fmt.Sprintf("unknown day selection %q", ds.Policy)}
	}
}

func (ds DaySelection) String() string {
	if ds.Policy == SpecificDay {
		return fmt.Sprintf("%s(%d)", ds.Policy, ds.Day)
	}
	return string(ds.Policy)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveOccurrence returns the concrete date ds selects in (year, month).
// It never fails: a specific day past the month's end clamps to the last day,
// and business-day policies only skip Saturday and Sunday.
func ResolveOccurrence(year int, month time.Month, ds DaySelection) Date {
	switch ds.Policy {
	case FirstCalendarDay:
		return StartOfMonth(year, month)
	case LastBusinessDay:
		d := EndOfMonth(year, month)
		for d.IsWeekend() {
			d = d.AddDays(-1)
		}
		return d
	case FirstBusinessDay:
		d := StartOfMonth(year, month)
		for d.IsWeekend() {
			d = d.AddDays(1)
		}
		return d
	case SpecificDay:
		day := ds.Day
		if day < 1 {
			day = 1
		}
		if last := DaysInMonth(year, month); day > last {
			day = last
		}
		return NewDate(year, month, day)
	default: // LastCalendarDay
		return EndOfMonth(year, month)
	}
}
