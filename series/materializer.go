/*
Package series implements the stateful half of the scheduler: turning rules
into persisted records and keeping a series consistent while it is edited.

PURPOSE:
  - Registry:     create and read series, with initial materialization
  - Materializer: persist one calendar year of a rule's occurrences
  - Mutator:      per-record and per-series edit/delete, year extension
                  and year deletion

MATERIALIZATION CONTRACT:
  Materialize(rule, year) is idempotent. Occurrences that already have a
  record are skipped, first by reading the series' records and again at
  write time (the store's ErrDuplicateOccurrence). Record creation that
  fails for another reason is retried with exponential backoff up to
  RetryPolicy.MaxAttempts; after that the call returns a
  *generic.MaterializationError. Records created before the failure are
  kept: callers must treat materialization as at-least-once per
  occurrence, not atomic per year.

CONCURRENCY:
  No locking is done here. The write-time duplicate check makes concurrent
  materialization of the same year safe. Callers must not interleave other
  mutations of a series while its regeneration is running.

SEE ALSO:
  - generic/stepper.go: Occurrence generation
  - generic/store.go: Store contracts relied on here
*/
package series

import (
	"context"
	"errors"
	"time"

	"github.com/warp/series-engine/generic"
)

// =============================================================================
// RETRY POLICY
// =============================================================================

// RetryPolicy bounds how long a single record creation is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows four attempts: 25ms, 50ms, 100ms between them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  4,
	InitialDelay: 25 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
}

// Backoff returns the delay before the retry following attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// =============================================================================
// MATERIALIZER
// =============================================================================

// Result summarises one Materialize call.
type Result struct {
	RuleID   generic.RuleID
	Year     int
	Expected int // occurrences the rule has in Year
	Created  int
	Skipped  int // already had a record
}

// Complete reports whether every occurrence of the year now has a record.
func (r Result) Complete() bool { return r.Created+r.Skipped == r.Expected }

type Materializer struct {
	Records generic.RecordStore
	Rules   generic.RuleStore
	Retry   RetryPolicy

	// Sleep waits between retries; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewMaterializer(records generic.RecordStore, rules generic.RuleStore) *Materializer {
	return &Materializer{
		Records: records,
		Rules:   rules,
		Retry:   DefaultRetryPolicy,
		Sleep:   sleepContext,
	}
}

// Materialize creates the records rule is missing in year and advances the
// rule's lastYearGenerated to at least year on success.
func (m *Materializer) Materialize(ctx context.Context, rule generic.RecurrenceRule, year int) (Result, error) {
	res := Result{RuleID: rule.ID, Year: year}
	if err := rule.Validate(); err != nil {
		return res, err
	}

	dates := generic.OccurrencesInYear(rule.Schedule, year)
	res.Expected = len(dates)

	existing, err := m.existingDates(ctx, rule.ID, year)
	if err != nil {
		return res, &generic.MaterializationError{RuleID: rule.ID, Year: year, Expected: res.Expected, Err: err}
	}

	for _, d := range dates {
		if existing[d.String()] {
			res.Skipped++
			continue
		}
		created, err := m.createWithRetry(ctx, generic.StampRecord(rule, d))
		if err != nil {
			return res, &generic.MaterializationError{
				RuleID:   rule.ID,
				Year:     year,
				Expected: res.Expected,
				Created:  res.Created,
				Err:      err,
			}
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}

	if err := m.Rules.AdvanceLastYearGenerated(ctx, rule.ID, year); err != nil {
		return res, &generic.MaterializationError{
			RuleID: rule.ID, Year: year, Expected: res.Expected, Created: res.Created, Err: err,
		}
	}
	return res, nil
}

// MaterializeRange runs Materialize for each year of years in order and
// stops at the first failure.
func (m *Materializer) MaterializeRange(ctx context.Context, rule generic.RecurrenceRule, years []int) ([]Result, error) {
	results := make([]Result, 0, len(years))
	for _, y := range years {
		res, err := m.Materialize(ctx, rule, y)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (m *Materializer) existingDates(ctx context.Context, id generic.RuleID, year int) (map[string]bool, error) {
	recs, err := m.Records.ListBySeries(ctx, id)
	if err != nil {
		return nil, err
	}
	window := generic.YearPeriod(year)
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if window.Contains(r.Date) {
			seen[r.Date.String()] = true
		}
	}
	return seen, nil
}

// createWithRetry returns (false, nil) when the occurrence turned out to be
// materialized already.
func (m *Materializer) createWithRetry(ctx context.Context, rec generic.Record) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= m.Retry.attempts(); attempt++ {
		_, err := m.Records.CreateRecord(ctx, rec)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, generic.ErrDuplicateOccurrence):
			return false, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return false, err
		}
		lastErr = err
		if attempt == m.Retry.attempts() {
			break
		}
		if err := m.sleep(ctx, m.Retry.Backoff(attempt)); err != nil {
			return false, err
		}
	}
	return false, lastErr
}

func (m *Materializer) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
