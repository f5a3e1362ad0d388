/*
Package generic provides the recurring financial record scheduler core.

PURPOSE:
  This package turns an abstract recurrence rule (periodicity + day-selection
  policy + date range) into concrete dated occurrences, and defines the
  records those occurrences become. It holds no state and performs no I/O;
  persistence is reached through the interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Fields: The stampable field set (concept, counterparty, amounts, rates)
  - Record: A dated income/expense record, optionally linked to a series
  - RecordPatch: Partial update applied when a single record is edited
  - IDs: Type-safe identifiers for rules and records

DESIGN PRINCIPLES:
  1. Precision: Amounts and rates use decimal.Decimal, never float64
  2. Pure functions: Same rule + bound always yields the same dates
  3. Type Safety: RuleID and RecordID cannot be mixed up

USAGE:
  rec := generic.StampRecord(rule, generic.NewDate(2025, time.March, 31))
  rec.Fields.Total() // base + tax - withholding

SEE ALSO:
  - rule.go: RecurrenceRule and Schedule
  - stepper.go: Occurrence generation
  - calendar.go: Day-selection resolution
*/
package generic

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	RuleID   string
	RecordID string
)

// =============================================================================
// KIND
// =============================================================================

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func (k Kind) Validate() error {
	switch k {
	case KindIncome, KindExpense:
		return nil
	default:
		return &InvalidRuleError{Field: "kind", Reason: fmt.Sprintf("must be income or expense, got %q", k)}
	}
}

// =============================================================================
// FIELDS - The template stamped onto every generated record
// =============================================================================

var hundred = decimal.NewFromInt(100)

type Fields struct {
	Concept         string
	Counterparty    string
	Category        string
	Base            decimal.Decimal // taxable base
	TaxRate         decimal.Decimal // percent, e.g. 21
	WithholdingRate decimal.Decimal // percent, e.g. 15
}

func (f Fields) Tax() decimal.Decimal {
	return f.Base.Mul(f.TaxRate).Div(hundred).Round(2)
}

func (f Fields) Withholding() decimal.Decimal {
	return f.Base.Mul(f.WithholdingRate).Div(hundred).Round(2)
}

// Total is base + tax - withholding.
func (f Fields) Total() decimal.Decimal {
	return f.Base.Add(f.Tax()).Sub(f.Withholding()).Round(2)
}

func (f Fields) Validate() error {
	if strings.TrimSpace(f.Concept) == "" {
		return &InvalidRuleError{Field: "concept", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(f.Concept) > 200 {
		return &InvalidRuleError{Field: "concept", Reason: "too long (max 200 characters)"}
	}
	if f.Base.IsNegative() {
		return &InvalidRuleError{Field: "base", Reason: "must not be negative"}
	}
	if f.TaxRate.IsNegative() || f.TaxRate.GreaterThan(hundred) {
		return &InvalidRuleError{Field: "tax_rate", Reason: "must be between 0 and 100"}
	}
	if f.WithholdingRate.IsNegative() || f.WithholdingRate.GreaterThan(hundred) {
		return &InvalidRuleError{Field: "withholding_rate", Reason: "must be between 0 and 100"}
	}
	return nil
}

// Equal compares by value; decimals with different exponents still match.
func (f Fields) Equal(o Fields) bool {
	return f.Concept == o.Concept &&
		f.Counterparty == o.Counterparty &&
		f.Category == o.Category &&
		f.Base.Equal(o.Base) &&
		f.TaxRate.Equal(o.TaxRate) &&
		f.WithholdingRate.Equal(o.WithholdingRate)
}

// =============================================================================
// RECORD - A dated financial record (owned by the record store)
// =============================================================================

type Record struct {
	ID       RecordID
	Kind     Kind
	Date     Date
	Number   string  // external sequential number, assigned to income by the store
	SeriesID *RuleID // nil = standalone
	Fields   Fields

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InSeries reports whether the record is still linked to id.
func (r Record) InSeries(id RuleID) bool {
	return r.SeriesID != nil && *r.SeriesID == id
}

// IsStandalone reports a record with no series link.
func (r Record) IsStandalone() bool { return r.SeriesID == nil }

// Detach clears the series link without touching any other field.
func (r *Record) Detach() { r.SeriesID = nil }

func (r Record) Validate() error {
	if err := r.Kind.Validate(); err != nil {
		return err
	}
	if r.Date.IsZero() {
		return &InvalidRuleError{Field: "date", Reason: "is required"}
	}
	return r.Fields.Validate()
}

// StampRecord builds the record rule produces on date.
func StampRecord(rule RecurrenceRule, date Date) Record {
	id := rule.ID
	return Record{
		Kind:     rule.Kind,
		Date:     date,
		SeriesID: &id,
		Fields:   rule.Template,
	}
}

// RecordPatch is a partial update for a single record. Nil fields are kept.
type RecordPatch struct {
	Date   *Date
	Fields *Fields
}

// Apply returns r with the patch applied.
func (p RecordPatch) Apply(r Record) Record {
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Fields != nil {
		r.Fields = *p.Fields
	}
	return r
}
