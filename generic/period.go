package generic

import "time"

// =============================================================================
// PERIOD - Inclusive date window used to bound occurrence generation
// =============================================================================

// Period is the closed interval [Start, End].
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Rule span: startDate - endDate
type Period struct {
	Start Date
	End   Date
}

// YearPeriod returns Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// IsValid reports End >= Start.
func (p Period) IsValid() bool {
	return !p.End.Before(p.Start)
}

// Years returns every calendar year the period touches, ascending.
func (p Period) Years() []int {
	if !p.IsValid() {
		return nil
	}
	years := make([]int, 0, p.End.Year()-p.Start.Year()+1)
	for y := p.Start.Year(); y <= p.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// PERIOD CURSOR - Month-granularity position advanced by a periodicity
// =============================================================================

// periodCursor is the (year, month) of the period currently being resolved.
type periodCursor struct {
	year  int
	month time.Month
}

func cursorAt(d Date) periodCursor {
	return periodCursor{year: d.Year(), month: d.Month()}
}

// advance moves the cursor forward n months, rolling over years.
func (c periodCursor) advance(n int) periodCursor {
	idx := int(c.month) - 1 + n
	return periodCursor{year: c.year + idx/12, month: time.Month(idx%12 + 1)}
}
