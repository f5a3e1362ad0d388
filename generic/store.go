/*
store.go - Persistence interfaces the scheduler core runs against

PURPOSE:
  Defines the interface between the scheduling logic and the system of
  record. The core never implements storage; it only relies on the
  contracts below. Implementations can use SQLite, PostgreSQL, or memory.

KEY INTERFACES:
  RecordStore: Financial records (create/read/update/delete, by series, by range)
  RuleStore:   Recurrence rules, including the lastYearGenerated high-water mark
  YearIndex:   The small persisted set of "known years"

IDEMPOTENCY:
  CreateRecord MUST reject a second record for the same (seriesID, date)
  with ErrDuplicateOccurrence. The materializer reads existing occurrences
  first, but this write-time check is what makes concurrent extensions safe.

NUMBERING:
  CreateRecord assigns the next sequential number to income records. When
  a concurrent writer took the same number the store returns
  ErrNumberConflict and the caller may retry.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with versioned migrations
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - errors.go: Sentinels returned by implementations
  - series/materializer.go: Main consumer of RecordStore
*/
package generic

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	// CreateRecord persists rec, assigning ID (if empty), Number (income) and
	// timestamps, and returns the stored record.
	// Errors: ErrDuplicateOccurrence, ErrNumberConflict.
	CreateRecord(ctx context.Context, rec Record) (Record, error)

	// GetRecord returns ErrRecordNotFound when id is unknown.
	GetRecord(ctx context.Context, id RecordID) (Record, error)

	// UpdateRecord replaces every mutable field of an existing record.
	UpdateRecord(ctx context.Context, rec Record) error

	DeleteRecord(ctx context.Context, id RecordID) error

	// ListBySeries returns the series' records ordered by date.
	ListBySeries(ctx context.Context, seriesID RuleID) ([]Record, error)

	// ListRange returns all records (any series or standalone) dated in p.
	ListRange(ctx context.Context, p Period) ([]Record, error)

	// DeleteBySeries removes every record of the series, returning the count.
	DeleteBySeries(ctx context.Context, seriesID RuleID) (int, error)

	// DetachSeries clears seriesID on every record of the series.
	DetachSeries(ctx context.Context, seriesID RuleID) (int, error)

	// DeleteRange removes every record dated in p.
	DeleteRange(ctx context.Context, p Period) (int, error)
}

// =============================================================================
// RULE STORE
// =============================================================================

type RuleStore interface {
	// CreateRule returns ErrRuleExists when the id is taken.
	CreateRule(ctx context.Context, rule RecurrenceRule) error

	// GetRule returns ErrRuleNotFound when id is unknown.
	GetRule(ctx context.Context, id RuleID) (RecurrenceRule, error)

	ListRules(ctx context.Context) ([]RecurrenceRule, error)

	// UpdateRule replaces kind, schedule, template and contract reference.
	// It never touches LastYearGenerated.
	UpdateRule(ctx context.Context, rule RecurrenceRule) error

	DeleteRule(ctx context.Context, id RuleID) error

	// AdvanceLastYearGenerated atomically sets
	// lastYearGenerated = max(lastYearGenerated, year).
	AdvanceLastYearGenerated(ctx context.Context, id RuleID, year int) error
}

// =============================================================================
// YEAR INDEX
// =============================================================================

type YearIndex interface {
	// Years returns the known years in ascending order.
	Years(ctx context.Context) ([]int, error)
	AddYear(ctx context.Context, year int) error
	RemoveYear(ctx context.Context, year int) error
}

// Store bundles the three collaborators; both implementations provide all of them.
type Store interface {
	RecordStore
	RuleStore
	YearIndex
}
