package factory

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/series-engine/generic"
)

// =============================================================================
// EXTRACTION BAG - Loose key/value output of contract extraction
// =============================================================================
//
// The extractor returns whatever it found in a document, in Spanish or
// English, with numbers as strings or JSON numbers. FromExtraction maps it
// onto a RuleJSON, then runs the normal validation.
//
//	{"concepto": "Alquiler oficina", "base_imponible": "1.000,00",
//	 "iva": 21, "periodicidad": "mensual", "dia": 5,
//	 "fecha_inicio": "2025-01-01", "tipo": "gasto"}

// Keys tried in order for each field.
var extractionKeys = map[string][]string{
	"kind":             {"kind", "tipo", "type"},
	"concept":          {"concept", "concepto", "description", "descripcion"},
	"counterparty":     {"counterparty", "contraparte", "cliente", "client", "proveedor", "supplier"},
	"category":         {"category", "categoria"},
	"base":             {"base", "base_imponible", "amount", "importe"},
	"tax_rate":         {"tax_rate", "iva", "vat"},
	"withholding_rate": {"withholding_rate", "irpf", "retencion"},
	"periodicity":      {"periodicity", "periodicidad", "frequency", "frecuencia"},
	"day_selection":    {"day_selection", "dia_cobro"},
	"day":              {"day", "dia"},
	"start_date":       {"start_date", "fecha_inicio"},
	"end_date":         {"end_date", "fecha_fin"},
	"contract_ref":     {"contract_ref", "contrato", "document_id"},
}

var periodicityAliases = map[string]generic.Periodicity{
	"monthly":     generic.Monthly,
	"mensual":     generic.Monthly,
	"month":       generic.Monthly,
	"quarterly":   generic.Quarterly,
	"trimestral":  generic.Quarterly,
	"quarter":     generic.Quarterly,
	"semiannual":  generic.Semiannual,
	"semi-annual": generic.Semiannual,
	"semestral":   generic.Semiannual,
	"half-yearly": generic.Semiannual,
	"annual":      generic.Annual,
	"anual":       generic.Annual,
	"yearly":      generic.Annual,
}

var dayPolicyAliases = map[string]generic.DayPolicy{
	"last_business_day":  generic.LastBusinessDay,
	"ultimo_dia_habil":   generic.LastBusinessDay,
	"first_business_day": generic.FirstBusinessDay,
	"primer_dia_habil":   generic.FirstBusinessDay,
	"last_calendar_day":  generic.LastCalendarDay,
	"last_day":           generic.LastCalendarDay,
	"ultimo_dia":         generic.LastCalendarDay,
	"fin_de_mes":         generic.LastCalendarDay,
	"first_calendar_day": generic.FirstCalendarDay,
	"first_day":          generic.FirstCalendarDay,
	"primer_dia":         generic.FirstCalendarDay,
	"specific_day":       generic.SpecificDay,
	"dia_concreto":       generic.SpecificDay,
}

var kindAliases = map[string]generic.Kind{
	"income":  generic.KindIncome,
	"ingreso": generic.KindIncome,
	"factura": generic.KindIncome,
	"expense": generic.KindExpense,
	"gasto":   generic.KindExpense,
}

// FromExtraction converts an extraction data bag into a validated candidate
// rule. Missing kind defaults to expense. Without any day information the
// start date's day of month is used as a specific day.
func (f *RuleFactory) FromExtraction(bag map[string]any) (generic.RecurrenceRule, error) {
	get := func(field string) (any, bool) {
		for _, k := range extractionKeys[field] {
			if v, ok := lookup(bag, k); ok {
				return v, true
			}
		}
		return nil, false
	}
	str := func(field string) string {
		v, _ := get(field)
		return stringValue(v)
	}

	rj := RuleJSON{
		Kind:        string(generic.KindExpense),
		ContractRef: str("contract_ref"),
		Template: FieldsJSON{
			Concept:      str("concept"),
			Counterparty: str("counterparty"),
			Category:     str("category"),
		},
	}

	if k := normalizeAlias(str("kind")); k != "" {
		kind, ok := kindAliases[k]
		if !ok {
			return generic.RecurrenceRule{}, &generic.InvalidRuleError{Field: "kind", Reason: fmt.Sprintf("unrecognized kind %q", k)}
		}
		rj.Kind = string(kind)
	}

	for field, dst := range map[string]*decimal.Decimal{
		"base":             &rj.Template.Base,
		"tax_rate":         &rj.Template.TaxRate,
		"withholding_rate": &rj.Template.WithholdingRate,
	} {
		v, ok := get(field)
		if !ok {
			continue
		}
		d, err := decimalValue(v)
		if err != nil {
			return generic.RecurrenceRule{}, &generic.InvalidRuleError{Field: field, Reason: err.Error()}
		}
		*dst = d
	}

	p := normalizeAlias(str("periodicity"))
	if alias, ok := periodicityAliases[p]; ok {
		p = string(alias)
	}
	rj.Periodicity = p

	rj.StartDate = str("start_date")
	rj.EndDate = str("end_date")

	if err := resolveExtractedDay(&rj, get); err != nil {
		return generic.RecurrenceRule{}, err
	}
	return f.FromJSON(rj)
}

func resolveExtractedDay(rj *RuleJSON, get func(string) (any, bool)) error {
	rawPolicy, _ := get("day_selection")
	policy := normalizeAlias(stringValue(rawPolicy))
	if alias, ok := dayPolicyAliases[policy]; ok {
		policy = string(alias)
	}

	dayRaw, hasDay := get("day")
	if hasDay {
		// "dia": "ultimo_dia_habil" is as common as "dia": 5
		if alias, ok := dayPolicyAliases[normalizeAlias(stringValue(dayRaw))]; ok && policy == "" {
			rj.DaySelection = string(alias)
			return nil
		}
		n, err := intValue(dayRaw)
		if err != nil {
			return &generic.InvalidRuleError{Field: "day", Reason: err.Error()}
		}
		rj.Day = n
		if policy == "" {
			policy = string(generic.SpecificDay)
		}
	}

	if policy == "" {
		start, err := generic.ParseDate(strings.TrimSpace(rj.StartDate))
		if err == nil {
			policy = string(generic.SpecificDay)
			rj.Day = start.Day()
		}
	}
	rj.DaySelection = policy
	return nil
}

// =============================================================================
// VALUE COERCION
// =============================================================================

func lookup(bag map[string]any, key string) (any, bool) {
	if v, ok := bag[key]; ok && v != nil {
		return v, true
	}
	for k, v := range bag {
		if v != nil && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func normalizeAlias(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u").Replace(s)
	return s
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// decimalValue accepts JSON numbers and strings in either "1,000.50" or
// "1.000,50" notation. A lone separator followed by exactly three digits
// ("1.000", "1,000") groups thousands; any other lone separator is the
// decimal point.
func decimalValue(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	}

	s := strings.TrimSpace(stringValue(v))
	s = strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(s, "%")), "€")
	s = strings.TrimSpace(strings.TrimPrefix(s, "€"))
	n, ok := normalizeNumber(s)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("not a number: %q", stringValue(v))
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %q", stringValue(v))
	}
	return d, nil
}

// normalizeNumber rewrites a grouped number into plain "1234.5" form.
func normalizeNumber(s string) (string, bool) {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	commas, dots := strings.Count(s, ","), strings.Count(s, ".")

	var whole, frac string
	switch {
	case commas == 0 && dots == 0:
		whole = s
	case commas > 0 && dots > 0:
		dec, group := ",", "."
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			dec, group = ".", ","
		}
		if strings.Count(s, dec) != 1 {
			return "", false
		}
		i := strings.Index(s, dec)
		whole, frac = s[:i], s[i+1:]
		if !validGroups(whole, group) {
			return "", false
		}
		whole = strings.ReplaceAll(whole, group, "")
	default:
		sep := ","
		if dots > 0 {
			sep = "."
		}
		i := strings.LastIndex(s, sep)
		head, tail := s[:i], s[i+1:]
		if commas+dots == 1 && (len(tail) != 3 || !validGroups(head, sep) || head[0] == '0') {
			whole, frac = head, tail
			break
		}
		if !validGroups(s, sep) {
			return "", false
		}
		whole = strings.ReplaceAll(s, sep, "")
	}

	if frac != "" {
		return sign + whole + "." + frac, true
	}
	return sign + whole, true
}

// validGroups reports whether s is digits grouped in threes by sep, with a
// leading group of one to three digits.
func validGroups(s, sep string) bool {
	for i, g := range strings.Split(s, sep) {
		if g == "" || len(g) > 3 || (i > 0 && len(g) != 3) {
			return false
		}
		for _, c := range g {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

func intValue(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("not a whole number: %v", t)
		}
		return int(t), nil
	case int:
		return t, nil
	}
	n, err := strconv.Atoi(stringValue(v))
	if err != nil {
		return 0, fmt.Errorf("not a whole number: %q", stringValue(v))
	}
	return n, nil
}
