package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/series-engine/generic"
	"github.com/warp/series-engine/generic/store"
)

func seriesRecord(series generic.RuleID, kind generic.Kind, d generic.Date) generic.Record {
	id := series
	return generic.Record{
		Kind:     kind,
		Date:     d,
		SeriesID: &id,
		Fields:   generic.Fields{Concept: "Retainer", Base: decimal.NewFromInt(500)},
	}
}

func TestMemory_CreateRecord_RejectsDuplicateOccurrence(t *testing.T) {
	// GIVEN: A series already has a record on 2025-03-31
	// WHEN: Creating another record for the same series and date
	// THEN: ErrDuplicateOccurrence, and the store is unchanged

	ctx := context.Background()
	m := store.NewMemory()
	d := generic.NewDate(2025, time.March, 31)

	_, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, d))
	require.NoError(t, err)

	_, err = m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, d))
	assert.ErrorIs(t, err, generic.ErrDuplicateOccurrence)

	// A different series may use the same date
	_, err = m.CreateRecord(ctx, seriesRecord("s2", generic.KindExpense, d))
	assert.NoError(t, err)

	recs, err := m.ListRange(ctx, generic.YearPeriod(2025))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMemory_CreateRecord_NumbersIncomePerYear(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	a, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindIncome, generic.NewDate(2025, time.January, 31)))
	require.NoError(t, err)
	b, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindIncome, generic.NewDate(2025, time.February, 28)))
	require.NoError(t, err)
	c, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindIncome, generic.NewDate(2026, time.January, 30)))
	require.NoError(t, err)
	e, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, generic.NewDate(2026, time.February, 27)))
	require.NoError(t, err)

	assert.Equal(t, "2025-0001", a.Number)
	assert.Equal(t, "2025-0002", b.Number)
	assert.Equal(t, "2026-0001", c.Number)
	assert.Empty(t, e.Number, "expenses are not numbered")
	assert.NotEmpty(t, a.ID)
}

func TestMemory_UpdateRecord_KeepsNumberAndCreation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetClock(func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) })

	rec, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindIncome, generic.NewDate(2025, time.January, 31)))
	require.NoError(t, err)

	m.SetClock(func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) })
	rec.Number = "tampered"
	rec.Detach()
	require.NoError(t, m.UpdateRecord(ctx, rec))

	got, err := m.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-0001", got.Number)
	assert.True(t, got.IsStandalone())
	assert.Equal(t, time.January, got.CreatedAt.Month())
	assert.Equal(t, time.February, got.UpdatedAt.Month())

	// Detached record no longer blocks the series' occurrence slot
	_, err = m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, generic.NewDate(2025, time.January, 31)))
	assert.NoError(t, err)
}

func TestMemory_DetachAndDeleteBySeries(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for month := time.January; month <= time.March; month++ {
		_, err := m.CreateRecord(ctx, seriesRecord("keep", generic.KindExpense, generic.NewDate(2025, month, 10)))
		require.NoError(t, err)
		_, err = m.CreateRecord(ctx, seriesRecord("drop", generic.KindExpense, generic.NewDate(2025, month, 10)))
		require.NoError(t, err)
	}

	n, err := m.DetachSeries(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = m.DeleteBySeries(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := m.ListRange(ctx, generic.YearPeriod(2025))
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, r := range all {
		assert.True(t, r.IsStandalone())
	}

	linked, err := m.ListBySeries(ctx, "keep")
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestMemory_DeleteRange(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, generic.NewDate(2024, time.December, 31)))
	require.NoError(t, err)
	_, err = m.CreateRecord(ctx, seriesRecord("s1", generic.KindExpense, generic.NewDate(2025, time.January, 1)))
	require.NoError(t, err)

	n, err := m.DeleteRange(ctx, generic.YearPeriod(2024))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := m.ListBySeries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "2025-01-01", left[0].Date.String())
}

func TestMemory_CreateRule_TakenID(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.CreateRule(ctx, generic.RecurrenceRule{ID: "r1", Kind: generic.KindExpense}))

	err := m.CreateRule(ctx, generic.RecurrenceRule{ID: "r1", Kind: generic.KindIncome})
	assert.ErrorIs(t, err, generic.ErrRuleExists)

	got, err := m.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, generic.KindExpense, got.Kind)
}

func TestMemory_AdvanceLastYearGenerated_OnlyMovesUp(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	rule := generic.RecurrenceRule{ID: "r1", Kind: generic.KindExpense}
	require.NoError(t, m.CreateRule(ctx, rule))

	require.NoError(t, m.AdvanceLastYearGenerated(ctx, "r1", 2025))
	require.NoError(t, m.AdvanceLastYearGenerated(ctx, "r1", 2024))

	got, err := m.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.LastYearGenerated)
	assert.Equal(t, 2025, *got.LastYearGenerated)

	// UpdateRule never rewinds the mark
	got.LastYearGenerated = nil
	got.ContractRef = "contract-7"
	require.NoError(t, m.UpdateRule(ctx, got))

	got, err = m.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.LastYearGenerated)
	assert.Equal(t, 2025, *got.LastYearGenerated)
	assert.Equal(t, "contract-7", got.ContractRef)

	assert.ErrorIs(t, m.AdvanceLastYearGenerated(ctx, "missing", 2025), generic.ErrRuleNotFound)
}

func TestMemory_YearIndexSorted(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for _, y := range []int{2026, 2024, 2025, 2024} {
		require.NoError(t, m.AddYear(ctx, y))
	}
	years, err := m.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2025, 2026}, years)

	require.NoError(t, m.RemoveYear(ctx, 2024))
	years, err = m.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2025, 2026}, years)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.GetRecord(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
	_, err = m.GetRule(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
	assert.ErrorIs(t, m.DeleteRecord(ctx, "nope"), generic.ErrRecordNotFound)
}
