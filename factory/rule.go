/*
Package factory provides JSON to Go rule conversion.

PURPOSE:
  Converts JSON series definitions into generic.RecurrenceRule values and
  back, and turns the loose data bag produced by document extraction into a
  candidate rule. The same validation runs on every path, so a rule that
  leaves the factory is always schedulable.

JSON SCHEMA:
  {
    "id": "office-rent",
    "kind": "expense",
    "periodicity": "monthly",
    "day_selection": "specific_day",
    "day": 5,
    "start_date": "2025-01-01",
    "end_date": "2025-12-31",
    "template": {
      "concept": "Office rent",
      "counterparty": "Landlord SL",
      "base": "1000.00",
      "tax_rate": "21",
      "withholding_rate": "19"
    }
  }

  Omitting end_date makes the series open-ended. "day" is only read for
  day_selection "specific_day".

USAGE:
  f := factory.NewRuleFactory()
  rule, err := f.ParseRule(jsonString)
  rule, _, err = registry.Schedule(ctx, rule)

SEE ALSO:
  - generic/rule.go: RecurrenceRule type definition
  - extraction.go: Data bag conversion
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/series-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the scheduling half of a rule; it is also the preview payload.
type ScheduleJSON struct {
	Periodicity  string `json:"periodicity"`
	DaySelection string `json:"day_selection"`
	Day          int    `json:"day,omitempty"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`
}

// FieldsJSON is the record template. Amounts are decimal strings on output
// and accept strings or numbers on input.
type FieldsJSON struct {
	Concept         string          `json:"concept"`
	Counterparty    string          `json:"counterparty,omitempty"`
	Category        string          `json:"category,omitempty"`
	Base            decimal.Decimal `json:"base"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"`

	// Derived, output only
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	Withholding *decimal.Decimal `json:"withholding,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
}

// RuleJSON is the JSON representation of a series.
type RuleJSON struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`
	ScheduleJSON
	Template    FieldsJSON `json:"template"`
	ContractRef string     `json:"contract_ref,omitempty"`

	// Output only
	LastYearGenerated *int       `json:"last_year_generated,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to Go structs.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses and validates a JSON rule definition.
func (f *RuleFactory) ParseRule(jsonStr string) (generic.RecurrenceRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return generic.RecurrenceRule{}, fmt.Errorf("invalid rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts a RuleJSON into a validated rule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (generic.RecurrenceRule, error) {
	kind, err := parseKind(rj.Kind)
	if err != nil {
		return generic.RecurrenceRule{}, err
	}
	schedule, err := f.ParseSchedule(rj.ScheduleJSON)
	if err != nil {
		return generic.RecurrenceRule{}, err
	}

	rule := generic.RecurrenceRule{
		ID:          generic.RuleID(rj.ID),
		Kind:        kind,
		Schedule:    schedule,
		Template:    f.ParseFields(rj.Template),
		ContractRef: strings.TrimSpace(rj.ContractRef),
	}
	if err := rule.Validate(); err != nil {
		return generic.RecurrenceRule{}, err
	}
	return rule, nil
}

// ParseSchedule converts and validates the scheduling fields.
func (f *RuleFactory) ParseSchedule(sj ScheduleJSON) (generic.Schedule, error) {
	periodicity, err := parsePeriodicity(sj.Periodicity)
	if err != nil {
		return generic.Schedule{}, err
	}
	days, err := parseDaySelection(sj.DaySelection, sj.Day)
	if err != nil {
		return generic.Schedule{}, err
	}
	start, err := parseDateField("start_date", sj.StartDate)
	if err != nil {
		return generic.Schedule{}, err
	}

	s := generic.Schedule{Periodicity: periodicity, Days: days, Start: start}
	if strings.TrimSpace(sj.EndDate) != "" {
		end, err := parseDateField("end_date", sj.EndDate)
		if err != nil {
			return generic.Schedule{}, err
		}
		s.End = &end
	}
	if err := s.Validate(); err != nil {
		return generic.Schedule{}, err
	}
	return s, nil
}

// ParseFields converts a template. It does not validate; Fields.Validate does.
func (f *RuleFactory) ParseFields(fj FieldsJSON) generic.Fields {
	return generic.Fields{
		Concept:         strings.TrimSpace(fj.Concept),
		Counterparty:    strings.TrimSpace(fj.Counterparty),
		Category:        strings.TrimSpace(fj.Category),
		Base:            fj.Base,
		TaxRate:         fj.TaxRate,
		WithholdingRate: fj.WithholdingRate,
	}
}

// ToJSON converts a rule back to its JSON form.
func (f *RuleFactory) ToJSON(rule generic.RecurrenceRule) RuleJSON {
	rj := RuleJSON{
		ID:                string(rule.ID),
		Kind:              string(rule.Kind),
		ScheduleJSON:      f.ScheduleToJSON(rule.Schedule),
		Template:          f.FieldsToJSON(rule.Template),
		ContractRef:       rule.ContractRef,
		LastYearGenerated: rule.LastYearGenerated,
	}
	if !rule.CreatedAt.IsZero() {
		created, updated := rule.CreatedAt, rule.UpdatedAt
		rj.CreatedAt, rj.UpdatedAt = &created, &updated
	}
	return rj
}

func (f *RuleFactory) ScheduleToJSON(s generic.Schedule) ScheduleJSON {
	sj := ScheduleJSON{
		Periodicity:  string(s.Periodicity),
		DaySelection: string(s.Days.Policy),
		StartDate:    s.Start.String(),
	}
	if s.Days.Policy == generic.SpecificDay {
		sj.Day = s.Days.Day
	}
	if s.End != nil {
		sj.EndDate = s.End.String()
	}
	return sj
}

// FieldsToJSON includes the derived amounts.
func (f *RuleFactory) FieldsToJSON(fields generic.Fields) FieldsJSON {
	tax, withholding, total := fields.Tax(), fields.Withholding(), fields.Total()
	return FieldsJSON{
		Concept:         fields.Concept,
		Counterparty:    fields.Counterparty,
		Category:        fields.Category,
		Base:            fields.Base,
		TaxRate:         fields.TaxRate,
		WithholdingRate: fields.WithholdingRate,
		Tax:             &tax,
		Withholding:     &withholding,
		Total:           &total,
	}
}

// =============================================================================
// PARSERS
// =============================================================================

func parseKind(s string) (generic.Kind, error) {
	k := generic.Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func parsePeriodicity(s string) (generic.Periodicity, error) {
	p := generic.Periodicity(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// parseDaySelection normalizes Day to 0 for policies that ignore it, so
// equal schedules compare equal.
func parseDaySelection(policy string, day int) (generic.DaySelection, error) {
	ds := generic.DaySelection{Policy: generic.DayPolicy(strings.ToLower(strings.TrimSpace(policy)))}
	if ds.Policy == generic.SpecificDay {
		ds.Day = day
	}
	if err := ds.Validate(); err != nil {
		return generic.DaySelection{}, err
	}
	return ds, nil
}

func parseDateField(field, s string) (generic.Date, error) {
	if strings.TrimSpace(s) == "" {
		return generic.Date{}, &generic.InvalidRuleError{Field: field, Reason: "is required"}
	}
	d, err := generic.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return generic.Date{}, &generic.InvalidRuleError{Field: field, Reason: err.Error()}
	}
	return d, nil
}
