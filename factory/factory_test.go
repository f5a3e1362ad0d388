package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/series-engine/factory"
	"github.com/warp/series-engine/generic"
)

// =============================================================================
// JSON RULES
// =============================================================================

func TestParseRule_ClosedMonthly(t *testing.T) {
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule(`{
		"id": "office-rent",
		"kind": "expense",
		"periodicity": "monthly",
		"day_selection": "specific_day",
		"day": 5,
		"start_date": "2025-01-01",
		"end_date": "2025-12-31",
		"template": {"concept": "Office rent", "base": "1000.00", "tax_rate": 21, "withholding_rate": "19"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, generic.RuleID("office-rent"), rule.ID)
	assert.Equal(t, generic.KindExpense, rule.Kind)
	assert.Equal(t, generic.Monthly, rule.Schedule.Periodicity)
	assert.Equal(t, generic.OnDay(5), rule.Schedule.Days)
	require.NotNil(t, rule.Schedule.End)
	assert.Equal(t, "2025-12-31", rule.Schedule.End.String())
	assert.True(t, rule.Template.TaxRate.Equal(decimal.NewFromInt(21)))
}

func TestParseRule_DayIgnoredForNonSpecificPolicy(t *testing.T) {
	// GIVEN: last_business_day with a stray "day"
	// THEN: Day is normalized to 0 so the schedule equals a clean one

	f := factory.NewRuleFactory()
	rule, err := f.ParseRule(`{"kind": "income", "periodicity": "QUARTERLY", "day_selection": "last_business_day",
		"day": 12, "start_date": "2025-01-01", "template": {"concept": "Retainer", "base": "10"}}`)
	require.NoError(t, err)

	assert.Equal(t, generic.OnLastBusinessDay(), rule.Schedule.Days)
	assert.Nil(t, rule.Schedule.End)
	assert.Equal(t, generic.Quarterly, rule.Schedule.Periodicity)
}

func TestParseRule_Invalid(t *testing.T) {
	f := factory.NewRuleFactory()

	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"missing start", `{"kind": "income", "periodicity": "monthly", "day_selection": "first_calendar_day", "template": {"concept": "x"}}`, "start_date"},
		{"bad date", `{"kind": "income", "periodicity": "monthly", "day_selection": "first_calendar_day", "start_date": "01/02/2025", "template": {"concept": "x"}}`, "start_date"},
		{"end before start", `{"kind": "income", "periodicity": "monthly", "day_selection": "first_calendar_day", "start_date": "2025-02-01", "end_date": "2025-01-01", "template": {"concept": "x"}}`, "end_date"},
		{"weekly", `{"kind": "income", "periodicity": "weekly", "day_selection": "first_calendar_day", "start_date": "2025-02-01", "template": {"concept": "x"}}`, "periodicity"},
		{"day 0", `{"kind": "income", "periodicity": "monthly", "day_selection": "specific_day", "start_date": "2025-02-01", "template": {"concept": "x"}}`, "day"},
		{"no concept", `{"kind": "income", "periodicity": "monthly", "day_selection": "first_calendar_day", "start_date": "2025-02-01", "template": {}}`, "concept"},
		{"bad kind", `{"kind": "gift", "periodicity": "monthly", "day_selection": "first_calendar_day", "start_date": "2025-02-01", "template": {"concept": "x"}}`, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseRule(tt.json)
			require.Error(t, err)

			var ruleErr *generic.InvalidRuleError
			require.ErrorAs(t, err, &ruleErr)
			assert.Equal(t, tt.field, ruleErr.Field)
		})
	}
}

func TestParseRule_MalformedJSON(t *testing.T) {
	_, err := factory.NewRuleFactory().ParseRule(`{"kind":`)
	assert.Error(t, err)
	assert.False(t, generic.IsClientError(err))
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewRuleFactory()
	in := `{"id": "r1", "kind": "income", "periodicity": "semiannual", "day_selection": "specific_day", "day": 31,
		"start_date": "2024-06-01", "end_date": "2026-06-30", "contract_ref": "doc-9",
		"template": {"concept": "Maintenance", "base": "200", "tax_rate": "21", "withholding_rate": "15"}}`

	rule, err := f.ParseRule(in)
	require.NoError(t, err)

	rj := f.ToJSON(rule)
	assert.Equal(t, 31, rj.Day)
	assert.Equal(t, "2026-06-30", rj.EndDate)
	require.NotNil(t, rj.Template.Total)
	assert.Equal(t, "212", rj.Template.Total.String())

	data, err := json.Marshal(rj)
	require.NoError(t, err)

	again, err := f.ParseRule(string(data))
	require.NoError(t, err)
	assert.True(t, again.Schedule.Equal(rule.Schedule))
	assert.True(t, again.Template.Equal(rule.Template))
	assert.Equal(t, "doc-9", again.ContractRef)
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestFromExtraction_SpanishBag(t *testing.T) {
	// GIVEN: A contract extraction in Spanish with European number notation
	// THEN: A monthly expense on the 5th with the parsed amounts

	f := factory.NewRuleFactory()
	rule, err := f.FromExtraction(map[string]any{
		"concepto":       "Alquiler oficina",
		"proveedor":      "Inmuebles SL",
		"base_imponible": "1.250,50",
		"iva":            float64(21),
		"irpf":           "19%",
		"periodicidad":   "Mensual",
		"dia":            float64(5),
		"fecha_inicio":   "2025-01-01",
		"tipo":           "gasto",
	})
	require.NoError(t, err)

	assert.Equal(t, generic.KindExpense, rule.Kind)
	assert.Equal(t, generic.Monthly, rule.Schedule.Periodicity)
	assert.Equal(t, generic.OnDay(5), rule.Schedule.Days)
	assert.Equal(t, "Inmuebles SL", rule.Template.Counterparty)
	assert.True(t, rule.Template.Base.Equal(decimal.RequireFromString("1250.50")))
	assert.True(t, rule.Template.WithholdingRate.Equal(decimal.NewFromInt(19)))
	assert.True(t, rule.IsOpenEnded())
}

func TestFromExtraction_QuarterlyIncomeWithPolicyAlias(t *testing.T) {
	f := factory.NewRuleFactory()
	rule, err := f.FromExtraction(map[string]any{
		"concept":      "Support plan",
		"amount":       json.Number("900"),
		"frequency":    "trimestral",
		"day":          "ultimo dia habil",
		"start_date":   "2025-01-01",
		"end_date":     "2025-12-31",
		"type":         "ingreso",
		"Contract_Ref": "ctr-1",
	})
	require.NoError(t, err)

	assert.Equal(t, generic.KindIncome, rule.Kind)
	assert.Equal(t, generic.Quarterly, rule.Schedule.Periodicity)
	assert.Equal(t, generic.OnLastBusinessDay(), rule.Schedule.Days)
	assert.Equal(t, "ctr-1", rule.ContractRef)
}

func TestFromExtraction_DefaultsDayToStartDate(t *testing.T) {
	f := factory.NewRuleFactory()
	rule, err := f.FromExtraction(map[string]any{
		"concept":     "Insurance",
		"base":        "1,200.00",
		"periodicity": "anual",
		"start_date":  "2025-03-18",
	})
	require.NoError(t, err)

	assert.Equal(t, generic.KindExpense, rule.Kind)
	assert.Equal(t, generic.OnDay(18), rule.Schedule.Days)
	assert.True(t, rule.Template.Base.Equal(decimal.NewFromInt(1200)))
}

func TestFromExtraction_Rejects(t *testing.T) {
	f := factory.NewRuleFactory()

	_, err := f.FromExtraction(map[string]any{"concept": "x", "periodicity": "weekly", "start_date": "2025-01-01"})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)

	_, err = f.FromExtraction(map[string]any{"concept": "x", "periodicity": "monthly", "start_date": "2025-01-01", "base": "a lot"})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)

	_, err = f.FromExtraction(map[string]any{"concept": "x", "periodicity": "monthly", "start_date": "2025-01-01", "tipo": "regalo"})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)

	_, err = f.FromExtraction(map[string]any{"concept": "x", "periodicity": "monthly", "start_date": "2025-01-01", "dia": 2.5})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)
}

func TestFromExtraction_AmountNotations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,000", "1000"},
		{"1.000", "1000"},
		{"1.000.000", "1000000"},
		{"1,000,000", "1000000"},
		{"1,000,000.50", "1000000.50"},
		{"1.000.000,50", "1000000.50"},
		{"1.250,50", "1250.50"},
		{"1,200.00", "1200"},
		{"12,5", "12.5"},
		{"12.50", "12.5"},
		{"0,500", "0.5"},
		{"€ 300", "300"},
		{"300 €", "300"},
		{"2500", "2500"},
	}
	f := factory.NewRuleFactory()
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			rule, err := f.FromExtraction(map[string]any{
				"concept": "Consulting", "periodicity": "monthly", "start_date": "2025-01-01", "importe": tt.in,
			})
			require.NoError(t, err)
			assert.True(t, rule.Template.Base.Equal(decimal.RequireFromString(tt.want)),
				"%s parsed as %s", tt.in, rule.Template.Base)
		})
	}
}

func TestFromExtraction_RejectsMalformedGrouping(t *testing.T) {
	f := factory.NewRuleFactory()
	for _, in := range []string{"1.00.0", "1,0,00", "1.000,00,0", "12,34.5", "1,000.000.5"} {
		t.Run(in, func(t *testing.T) {
			_, err := f.FromExtraction(map[string]any{
				"concept": "Consulting", "periodicity": "monthly", "start_date": "2025-01-01", "base": in,
			})
			assert.ErrorIs(t, err, generic.ErrInvalidRule)
		})
	}
}
