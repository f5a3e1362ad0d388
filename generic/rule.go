package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIODICITY
// =============================================================================

type Periodicity string

const (
	Monthly    Periodicity = "monthly"
	Quarterly  Periodicity = "quarterly"
	Semiannual Periodicity = "semiannual"
	Annual     Periodicity = "annual"
)

// Months returns how far the period cursor advances per occurrence.
// Zero means the periodicity is unknown.
func (p Periodicity) Months() int {
	switch p {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Semiannual:
		return 6
	case Annual:
		return 12
	default:
		return 0
	}
}

func (p Periodicity) Validate() error {
	if p.Months() == 0 {
		return &InvalidRuleError{Field: "periodicity", Reason: fmt.Sprintf("unknown periodicity %q", p)}
	}
	return nil
}

// =============================================================================
// SCHEDULE - The scheduling half of a rule; changing it regenerates the series
// =============================================================================

type Schedule struct {
	Periodicity Periodicity
	Days        DaySelection
	Start       Date  // inclusive
	End         *Date // inclusive; nil = open-ended
}

func (s Schedule) IsOpenEnded() bool { return s.End == nil }

// Span returns [Start, End]; for open-ended schedules End is the end of untilYear.
func (s Schedule) Span(untilYear int) Period {
	if s.End != nil {
		return Period{Start: s.Start, End: *s.End}
	}
	return Period{Start: s.Start, End: EndOfYear(untilYear)}
}

func (s Schedule) Validate() error {
	if s.Start.IsZero() {
		return &InvalidRuleError{Field: "start_date", Reason: "is required"}
	}
	if err := s.Periodicity.Validate(); err != nil {
		return err
	}
	if err := s.Days.Validate(); err != nil {
		return err
	}
	if s.End != nil && s.End.Before(s.Start) {
		return &InvalidRuleError{Field: "end_date", Reason: fmt.Sprintf("%s is before start date %s", s.End, s.Start)}
	}
	return nil
}

// Equal reports whether two schedules generate the same occurrences.
func (s Schedule) Equal(o Schedule) bool {
	if s.Periodicity != o.Periodicity || s.Days != o.Days || !s.Start.Equal(o.Start) {
		return false
	}
	if (s.End == nil) != (o.End == nil) {
		return false
	}
	return s.End == nil || s.End.Equal(*o.End)
}

// =============================================================================
// RECURRENCE RULE - The persisted series definition
// =============================================================================

type RecurrenceRule struct {
	ID       RuleID
	Kind     Kind
	Schedule Schedule
	Template Fields

	// LastYearGenerated is the materialization high-water mark. Only the
	// materializer advances it, and only upward.
	LastYearGenerated *int

	// ContractRef links to the document the template was extracted from.
	ContractRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r RecurrenceRule) IsOpenEnded() bool { return r.Schedule.IsOpenEnded() }

// GeneratedThrough reports whether materialization already reached year.
func (r RecurrenceRule) GeneratedThrough(year int) bool {
	return r.LastYearGenerated != nil && *r.LastYearGenerated >= year
}

// Horizon is the last year materialized without an explicit extension:
// the end date's year for closed rules, otherwise the later of the current
// year and the start year.
func (r RecurrenceRule) Horizon(currentYear int) int {
	if r.Schedule.End != nil {
		return r.Schedule.End.Year()
	}
	if start := r.Schedule.Start.Year(); start > currentYear {
		return start
	}
	return currentYear
}

func (r RecurrenceRule) Validate() error {
	if err := r.Kind.Validate(); err != nil {
		return err
	}
	if err := r.Schedule.Validate(); err != nil {
		return err
	}
	return r.Template.Validate()
}
