package series

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/series-engine/generic"
)

// Registry owns series definitions: rule -> generated records.
type Registry struct {
	Rules        generic.RuleStore
	Records      generic.RecordStore
	Materializer *Materializer
	Now          generic.Clock
}

func NewRegistry(rules generic.RuleStore, records generic.RecordStore, m *Materializer, now generic.Clock) *Registry {
	return &Registry{Rules: rules, Records: records, Materializer: m, Now: now}
}

// Schedule validates and persists a new series, then materializes it from
// its start year through rule.Horizon. The rule is kept even if
// materialization fails; the returned error then carries partial counts.
func (r *Registry) Schedule(ctx context.Context, rule generic.RecurrenceRule) (generic.RecurrenceRule, []Result, error) {
	if err := rule.Validate(); err != nil {
		return generic.RecurrenceRule{}, nil, err
	}
	if rule.ID == "" {
		rule.ID = generic.RuleID(uuid.NewString())
	}
	rule.LastYearGenerated = nil

	if err := r.Rules.CreateRule(ctx, rule); err != nil {
		return generic.RecurrenceRule{}, nil, fmt.Errorf("create series: %w", err)
	}

	span := generic.Period{Start: rule.Schedule.Start, End: generic.EndOfYear(rule.Horizon(r.Now.CurrentYear()))}
	results, err := r.Materializer.MaterializeRange(ctx, rule, span.Years())

	stored, getErr := r.Rules.GetRule(ctx, rule.ID)
	if getErr != nil {
		return rule, results, getErr
	}
	return stored, results, err
}

func (r *Registry) Get(ctx context.Context, id generic.RuleID) (generic.RecurrenceRule, error) {
	return r.Rules.GetRule(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]generic.RecurrenceRule, error) {
	return r.Rules.ListRules(ctx)
}

// RecordsOf returns the records currently linked to the series.
func (r *Registry) RecordsOf(ctx context.Context, id generic.RuleID) ([]generic.Record, error) {
	if _, err := r.Rules.GetRule(ctx, id); err != nil {
		return nil, err
	}
	return r.Records.ListBySeries(ctx, id)
}

// MaterializeYear materializes one year of an existing series.
func (r *Registry) MaterializeYear(ctx context.Context, id generic.RuleID, year int) (Result, error) {
	rule, err := r.Rules.GetRule(ctx, id)
	if err != nil {
		return Result{RuleID: id, Year: year}, err
	}
	return r.Materializer.Materialize(ctx, rule, year)
}
