package series

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/warp/series-engine/generic"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// SERIES MUTATOR - Edit and delete semantics
// =============================================================================
//
// Occurrence states relative to a series:
//
//	IN_SERIES --editOne--> DETACHED (terminal for that record)
//	ACTIVE --editSeries(schedule change)--> REGENERATED --> ACTIVE
//
// Each operation below is one named transition; there is no "apply to all"
// flag threaded through call sites.

type Mutator struct {
	Rules        generic.RuleStore
	Records      generic.RecordStore
	Years        generic.YearIndex
	Materializer *Materializer
	Now          generic.Clock

	extensions singleflight.Group
}

func NewMutator(store generic.Store, m *Materializer, now generic.Clock) *Mutator {
	return &Mutator{
		Rules:        store,
		Records:      store,
		Years:        store,
		Materializer: m,
		Now:          now,
	}
}

// =============================================================================
// SINGLE RECORD
// =============================================================================

// EditOne applies patch to one record and detaches it from its series.
// The series, its other records and lastYearGenerated are untouched.
func (mu *Mutator) EditOne(ctx context.Context, id generic.RecordID, patch generic.RecordPatch) (generic.Record, error) {
	rec, err := mu.Records.GetRecord(ctx, id)
	if err != nil {
		return generic.Record{}, err
	}
	rec = patch.Apply(rec)
	rec.Detach()
	if err := rec.Validate(); err != nil {
		return generic.Record{}, err
	}
	if err := mu.Records.UpdateRecord(ctx, rec); err != nil {
		return generic.Record{}, fmt.Errorf("update record %s: %w", id, err)
	}
	return mu.Records.GetRecord(ctx, id)
}

// DeleteOne removes one record; its series is unaffected.
func (mu *Mutator) DeleteOne(ctx context.Context, id generic.RecordID) error {
	return mu.Records.DeleteRecord(ctx, id)
}

// =============================================================================
// WHOLE SERIES
// =============================================================================

// SeriesUpdate carries the new template and/or schedule. Nil keeps the current one.
type SeriesUpdate struct {
	Template    *generic.Fields
	Schedule    *generic.Schedule
	ContractRef *string
}

// EditResult describes what EditSeries did.
type EditResult struct {
	Rule        generic.RecurrenceRule
	Regenerated bool
	Updated     int // records rewritten in place (template-only edit)
	Deleted     int // records removed before regeneration
	Expected    int // occurrences the new rule has over the regenerated span
	Created     int
	Years       []Result
}

// EditSeries updates a series. A schedule change regenerates it: every
// record of the series is deleted and the new rule is materialized from its
// start year through max(horizon, lastYearGenerated). A template-only change
// rewrites the existing records in place and keeps their dates.
//
// Regeneration is not transactional. If re-materialization falls short the
// rule and the new records are kept and a *generic.RegenerationIncompleteError
// is returned alongside a populated EditResult.
func (mu *Mutator) EditSeries(ctx context.Context, id generic.RuleID, upd SeriesUpdate) (EditResult, error) {
	rule, err := mu.Rules.GetRule(ctx, id)
	if err != nil {
		return EditResult{}, err
	}

	next := rule
	if upd.Template != nil {
		next.Template = *upd.Template
	}
	if upd.Schedule != nil {
		next.Schedule = *upd.Schedule
	}
	if upd.ContractRef != nil {
		next.ContractRef = *upd.ContractRef
	}
	if err := next.Validate(); err != nil {
		return EditResult{}, err
	}
	if err := mu.Rules.UpdateRule(ctx, next); err != nil {
		return EditResult{}, fmt.Errorf("update series %s: %w", id, err)
	}

	if upd.Schedule != nil && !upd.Schedule.Equal(rule.Schedule) {
		return mu.regenerate(ctx, next)
	}

	res := EditResult{Rule: next}
	if upd.Template != nil && !upd.Template.Equal(rule.Template) {
		recs, err := mu.Records.ListBySeries(ctx, id)
		if err != nil {
			return res, fmt.Errorf("list records of series %s: %w", id, err)
		}
		for _, rec := range recs {
			rec.Fields = next.Template
			if err := mu.Records.UpdateRecord(ctx, rec); err != nil {
				return res, fmt.Errorf("update record %s: %w", rec.ID, err)
			}
			res.Updated++
		}
	}
	res.Rule, err = mu.Rules.GetRule(ctx, id)
	return res, err
}

func (mu *Mutator) regenerate(ctx context.Context, rule generic.RecurrenceRule) (EditResult, error) {
	res := EditResult{Rule: rule, Regenerated: true}

	deleted, err := mu.Records.DeleteBySeries(ctx, rule.ID)
	if err != nil {
		return res, fmt.Errorf("delete records of series %s: %w", rule.ID, err)
	}
	res.Deleted = deleted

	last := rule.Horizon(mu.Now.CurrentYear())
	if rule.IsOpenEnded() && rule.LastYearGenerated != nil && *rule.LastYearGenerated > last {
		last = *rule.LastYearGenerated
	}
	span := generic.Period{Start: rule.Schedule.Start, End: generic.EndOfYear(last)}

	// Keep going after a failed year so the caller sees the full shortfall.
	var causes []error
	for _, year := range span.Years() {
		yr, err := mu.Materializer.Materialize(ctx, rule, year)
		res.Years = append(res.Years, yr)
		res.Expected += yr.Expected
		res.Created += yr.Created
		if err != nil {
			if !errors.Is(err, generic.ErrMaterializationFailed) {
				return res, err
			}
			causes = append(causes, err)
		}
	}

	if stored, err := mu.Rules.GetRule(ctx, rule.ID); err == nil {
		res.Rule = stored
	}
	if res.Created < res.Expected {
		return res, &generic.RegenerationIncompleteError{
			RuleID:   rule.ID,
			Expected: res.Expected,
			Created:  res.Created,
			Cause:    errors.Join(causes...),
		}
	}
	return res, nil
}

// DeleteSeries removes the rule. With deleteRecords its records are deleted
// too; otherwise they survive as standalone records. Returns the number of
// records deleted or detached.
func (mu *Mutator) DeleteSeries(ctx context.Context, id generic.RuleID, deleteRecords bool) (int, error) {
	if _, err := mu.Rules.GetRule(ctx, id); err != nil {
		return 0, err
	}

	var n int
	var err error
	if deleteRecords {
		n, err = mu.Records.DeleteBySeries(ctx, id)
	} else {
		n, err = mu.Records.DetachSeries(ctx, id)
	}
	if err != nil {
		return n, fmt.Errorf("release records of series %s: %w", id, err)
	}
	if err := mu.Rules.DeleteRule(ctx, id); err != nil {
		return n, fmt.Errorf("delete series %s: %w", id, err)
	}
	return n, nil
}

// =============================================================================
// YEAR OPERATIONS
// =============================================================================

// ExtendResult is the outcome of ExtendYear.
type ExtendResult struct {
	Year    int
	Results []Result // one per open-ended series that was behind Year
}

// Created returns the total number of records created.
func (r ExtendResult) Created() int {
	n := 0
	for _, res := range r.Results {
		n += res.Created
	}
	return n
}

// ExtendYear materializes year for every open-ended series whose
// lastYearGenerated is below it, and adds year to the year index.
// Concurrent calls for the same year share one execution; a failing series
// does not stop the others and all failures are joined in the error.
// The shared execution is detached from any single caller's cancellation:
// a caller whose ctx ends gets ctx.Err() while the others keep waiting.
func (mu *Mutator) ExtendYear(ctx context.Context, year int) (ExtendResult, error) {
	ch := mu.extensions.DoChan(strconv.Itoa(year), func() (any, error) {
		return mu.extendYear(context.WithoutCancel(ctx), year)
	})
	select {
	case <-ctx.Done():
		return ExtendResult{Year: year}, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(ExtendResult)
		return res, r.Err
	}
}

func (mu *Mutator) extendYear(ctx context.Context, year int) (ExtendResult, error) {
	res := ExtendResult{Year: year}

	rules, err := mu.Rules.ListRules(ctx)
	if err != nil {
		return res, fmt.Errorf("list series: %w", err)
	}

	var errs []error
	for _, rule := range rules {
		if !rule.IsOpenEnded() || rule.GeneratedThrough(year) {
			continue
		}
		r, err := mu.Materializer.Materialize(ctx, rule, year)
		res.Results = append(res.Results, r)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := mu.Years.AddYear(ctx, year); err != nil {
		errs = append(errs, fmt.Errorf("add year %d to index: %w", year, err))
	}
	return res, errors.Join(errs...)
}

// DeleteYearResult is the outcome of DeleteYear.
type DeleteYearResult struct {
	Year             int
	Deleted          int
	RemovedFromIndex bool
}

// DeleteYear deletes every record dated in year, from any series or
// standalone. The year leaves the index only when it is the index's minimum
// or maximum and not the current calendar year; otherwise it stays as an
// empty placeholder.
func (mu *Mutator) DeleteYear(ctx context.Context, year int) (DeleteYearResult, error) {
	res := DeleteYearResult{Year: year}

	n, err := mu.Records.DeleteRange(ctx, generic.YearPeriod(year))
	if err != nil {
		return res, fmt.Errorf("delete records of %d: %w", year, err)
	}
	res.Deleted = n

	years, err := mu.Years.Years(ctx)
	if err != nil {
		return res, fmt.Errorf("read year index: %w", err)
	}
	if IsPrunableEdgeYear(years, year, mu.Now.CurrentYear()) {
		if err := mu.Years.RemoveYear(ctx, year); err != nil {
			return res, fmt.Errorf("remove year %d from index: %w", year, err)
		}
		res.RemovedFromIndex = true
	}
	return res, nil
}

// IsPrunableEdgeYear reports whether year is the minimum or maximum of the
// ascending index and is not the current year.
func IsPrunableEdgeYear(index []int, year, currentYear int) bool {
	if len(index) == 0 || year == currentYear {
		return false
	}
	return year == index[0] || year == index[len(index)-1]
}
