package generic

import "time"

// maxYear bounds the cursor; time.Date accepts more but dates here are 1-9999.
const maxYear = 9999

// GenerateOccurrences returns, in order, every date s produces up to until
// (or s.End when that is earlier). The cursor starts at the start date's
// month and advances by the periodicity's month count. An occurrence that
// resolves before the start date is skipped, so a mid-month start with
// "first business day" begins with the following period.
//
// The result is a pure function of its inputs.
func GenerateOccurrences(s Schedule, until Date) []Date {
	step := s.Periodicity.Months()
	if step == 0 || s.Start.IsZero() {
		return nil
	}

	bound := until
	if s.End != nil && s.End.Before(bound) {
		bound = *s.End
	}

	var out []Date
	for c := cursorAt(s.Start); c.year <= maxYear; c = c.advance(step) {
		d := ResolveOccurrence(c.year, c.month, s.Days)
		if d.After(bound) {
			break
		}
		if d.Before(s.Start) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// OccurrencesIn returns the occurrences of s that fall inside p.
func OccurrencesIn(s Schedule, p Period) []Date {
	all := GenerateOccurrences(s, p.End)
	out := make([]Date, 0, len(all))
	for _, d := range all {
		if p.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// OccurrencesInYear is the one-calendar-year window materialization works in.
func OccurrencesInYear(s Schedule, year int) []Date {
	return OccurrencesIn(s, YearPeriod(year))
}

// =============================================================================
// PREVIEW - Dry run for a candidate schedule
// =============================================================================

type PreviewResult struct {
	Count int
	Dates []Date
	Until Date // bound that was applied
}

// PreviewBound is the end date when set, otherwise Dec 31 of the current year,
// mirroring "materialize only through the current year when open-ended".
func PreviewBound(s Schedule, now time.Time) Date {
	if s.End != nil {
		return *s.End
	}
	return EndOfYear(now.Year())
}

// Preview validates s and lists its occurrences through PreviewBound.
// Zero occurrences is a valid result, not an error.
func Preview(s Schedule, now time.Time) (PreviewResult, error) {
	if err := s.Validate(); err != nil {
		return PreviewResult{}, err
	}
	until := PreviewBound(s, now)
	dates := GenerateOccurrences(s, until)
	if dates == nil {
		dates = []Date{}
	}
	return PreviewResult{Count: len(dates), Dates: dates, Until: until}, nil
}
