package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/series-engine/generic"
	"github.com/warp/series-engine/series"
	"github.com/warp/series-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fields() generic.Fields {
	return generic.Fields{
		Concept:         "Consulting",
		Counterparty:    "Globex",
		Category:        "services",
		Base:            decimal.RequireFromString("1250.50"),
		TaxRate:         decimal.RequireFromString("21"),
		WithholdingRate: decimal.RequireFromString("15"),
	}
}

func linked(series generic.RuleID, kind generic.Kind, d generic.Date) generic.Record {
	id := series
	return generic.Record{Kind: kind, Date: d, SeriesID: &id, Fields: fields()}
}

func openRule(id generic.RuleID) generic.RecurrenceRule {
	return generic.RecurrenceRule{
		ID:   id,
		Kind: generic.KindIncome,
		Schedule: generic.Schedule{
			Periodicity: generic.Quarterly,
			Days:        generic.OnDay(15),
			Start:       generic.NewDate(2024, time.February, 1),
		},
		Template:    fields(),
		ContractRef: "contract-42",
	}
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestSQLite_CreateRecord_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateRecord(ctx, linked("s1", generic.KindIncome, generic.NewDate(2025, time.March, 31)))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "2025-0001", created.Number)

	got, err := store.GetRecord(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-31", got.Date.String())
	assert.True(t, got.InSeries("s1"))
	assert.True(t, got.Fields.Equal(fields()))
	assert.Equal(t, "2025-0001", got.Number)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_PingAndClock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	pinned := time.Date(2025, time.January, 2, 8, 30, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return pinned })

	created, err := store.CreateRecord(ctx, generic.Record{Kind: generic.KindExpense, Date: generic.NewDate(2025, time.January, 2), Fields: fields()})
	require.NoError(t, err)
	assert.Empty(t, created.Number)

	got, err := store.GetRecord(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(pinned))
	assert.True(t, got.UpdatedAt.Equal(pinned))
}

func TestSQLite_DuplicateOccurrence_Rejected(t *testing.T) {
	// GIVEN: Series s1 already has a record on 2025-03-31
	// WHEN: A second record for (s1, 2025-03-31) is inserted
	// THEN: ErrDuplicateOccurrence from the unique index; numbering is not consumed

	store := newTestStore(t)
	ctx := context.Background()
	d := generic.NewDate(2025, time.March, 31)

	_, err := store.CreateRecord(ctx, linked("s1", generic.KindIncome, d))
	require.NoError(t, err)

	_, err = store.CreateRecord(ctx, linked("s1", generic.KindIncome, d))
	assert.ErrorIs(t, err, generic.ErrDuplicateOccurrence)

	next, err := store.CreateRecord(ctx, linked("s1", generic.KindIncome, generic.NewDate(2025, time.April, 30)))
	require.NoError(t, err)
	assert.Equal(t, "2025-0002", next.Number)

	// Standalone records on the same date never collide
	_, err = store.CreateRecord(ctx, generic.Record{Kind: generic.KindExpense, Date: d, Fields: fields()})
	assert.NoError(t, err)
	_, err = store.CreateRecord(ctx, generic.Record{Kind: generic.KindExpense, Date: d, Fields: fields()})
	assert.NoError(t, err)
}

func TestSQLite_Numbering_SkipsTakenNumbers(t *testing.T) {
	// GIVEN: Standalone income records carrying explicit numbers 2025-0001 and 2025-0002
	// WHEN: Income records are created without a number
	// THEN: The sequence skips past the taken numbers instead of conflicting forever

	store := newTestStore(t)
	ctx := context.Background()

	for i, n := range []string{"2025-0001", "2025-0002"} {
		rec := generic.Record{Kind: generic.KindIncome, Date: generic.NewDate(2025, time.May, i+1), Number: n, Fields: fields()}
		_, err := store.CreateRecord(ctx, rec)
		require.NoError(t, err)
	}

	next, err := store.CreateRecord(ctx, linked("s1", generic.KindIncome, generic.NewDate(2025, time.May, 31)))
	require.NoError(t, err)
	assert.Equal(t, "2025-0003", next.Number)

	after, err := store.CreateRecord(ctx, linked("s1", generic.KindIncome, generic.NewDate(2025, time.June, 30)))
	require.NoError(t, err)
	assert.Equal(t, "2025-0004", after.Number)

	// An explicit number already in use is still a conflict
	dup := generic.Record{Kind: generic.KindIncome, Date: generic.NewDate(2025, time.July, 1), Number: "2025-0003", Fields: fields()}
	_, err = store.CreateRecord(ctx, dup)
	assert.ErrorIs(t, err, generic.ErrNumberConflict)
	assert.True(t, generic.IsRetryable(err))
}

func TestSQLite_UpdateDetachAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []generic.RecordID
	for m := time.January; m <= time.March; m++ {
		rec, err := store.CreateRecord(ctx, linked("s1", generic.KindExpense, generic.NewDate(2025, m, 10)))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	one, err := store.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	one.Detach()
	one.Fields.Base = decimal.NewFromInt(1)
	require.NoError(t, store.UpdateRecord(ctx, one))

	inSeries, err := store.ListBySeries(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, inSeries, 2)

	n, err := store.DetachSeries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.ListRange(ctx, generic.YearPeriod(2025))
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, r := range all {
		assert.True(t, r.IsStandalone())
	}

	n, err = store.DeleteRange(ctx, generic.Period{
		Start: generic.NewDate(2025, time.February, 1),
		End:   generic.NewDate(2025, time.March, 31),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteRecord(ctx, ids[0]))
	assert.ErrorIs(t, store.DeleteRecord(ctx, ids[0]), generic.ErrRecordNotFound)
	assert.ErrorIs(t, store.UpdateRecord(ctx, one), generic.ErrRecordNotFound)
}

// =============================================================================
// RULE TESTS
// =============================================================================

func TestSQLite_Rule_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRule(ctx, openRule("r1")))

	got, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, generic.Quarterly, got.Schedule.Periodicity)
	assert.Equal(t, generic.OnDay(15), got.Schedule.Days)
	assert.Equal(t, "2024-02-01", got.Schedule.Start.String())
	assert.Nil(t, got.Schedule.End)
	assert.Nil(t, got.LastYearGenerated)
	assert.Equal(t, "contract-42", got.ContractRef)
	assert.True(t, got.Template.Equal(fields()))

	end := generic.NewDate(2024, time.November, 30)
	got.Schedule.End = &end
	require.NoError(t, store.UpdateRule(ctx, got))

	got, err = store.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.Schedule.End)
	assert.Equal(t, "2024-11-30", got.Schedule.End.String())

	require.NoError(t, store.DeleteRule(ctx, "r1"))
	_, err = store.GetRule(ctx, "r1")
	assert.ErrorIs(t, err, generic.ErrRuleNotFound)
}

func TestSQLite_CreateRule_TakenID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRule(ctx, openRule("r1")))

	again := openRule("r1")
	again.ContractRef = "contract-99"
	assert.ErrorIs(t, store.CreateRule(ctx, again), generic.ErrRuleExists)

	got, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "contract-42", got.ContractRef)
}

func TestSQLite_AdvanceLastYearGenerated_OnlyMovesUp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRule(ctx, openRule("r1")))

	require.NoError(t, store.AdvanceLastYearGenerated(ctx, "r1", 2026))
	require.NoError(t, store.AdvanceLastYearGenerated(ctx, "r1", 2025))

	got, err := store.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.LastYearGenerated)
	assert.Equal(t, 2026, *got.LastYearGenerated)

	assert.ErrorIs(t, store.AdvanceLastYearGenerated(ctx, "missing", 2026), generic.ErrRuleNotFound)
}

// =============================================================================
// YEAR INDEX TESTS
// =============================================================================

func TestSQLite_YearIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, y := range []int{2026, 2024, 2025, 2025} {
		require.NoError(t, store.AddYear(ctx, y))
	}
	years, err := store.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2025, 2026}, years)

	require.NoError(t, store.RemoveYear(ctx, 2026))
	years, err = store.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2025}, years)
}

// =============================================================================
// END-TO-END WITH THE MATERIALIZER
// =============================================================================

func TestSQLite_QuarterlyScenario(t *testing.T) {
	// GIVEN: Quarterly on the 15th, 2024-02-01 to 2024-11-30, on SQLite
	// WHEN: Scheduled, then materialized again
	// THEN: Four records (Feb, May, Aug, Nov); the second run creates none

	store := newTestStore(t)
	ctx := context.Background()
	clock := generic.Clock(func() time.Time { return time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC) })

	mat := series.NewMaterializer(store, store)
	registry := series.NewRegistry(store, store, mat, clock)

	rule := openRule("")
	end := generic.NewDate(2024, time.November, 30)
	rule.Schedule.End = &end

	created, _, err := registry.Schedule(ctx, rule)
	require.NoError(t, err)

	recs, err := registry.RecordsOf(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "2024-11-15", recs[3].Date.String())
	assert.Equal(t, "2024-0004", recs[3].Number)

	res, err := mat.Materialize(ctx, created, 2024)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 4, res.Skipped)
}
