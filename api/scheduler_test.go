package api

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/series-engine/events"
	"github.com/warp/series-engine/factory"
	"github.com/warp/series-engine/generic/store"
	"github.com/warp/series-engine/logging"
	"github.com/warp/series-engine/series"
)

func TestNewYearRollover_InvalidSchedule(t *testing.T) {
	log := logging.NewWithOutput("info", "test", io.Discard)
	_, err := NewYearRollover(nil, clockAt(2025), nil, log, "every new year")
	assert.ErrorContains(t, err, "invalid rollover schedule")
}

func TestYearRollover_RunNowExtendsCurrentYear(t *testing.T) {
	// GIVEN: An open-ended series materialized through 2025
	// WHEN: The rollover runs with the clock in 2026
	// THEN: 2026 is materialized once and a year.extended event is published

	ctx := context.Background()
	st := store.NewMemory()
	mat := series.NewMaterializer(st, st)

	rule, err := factory.NewRuleFactory().ParseRule(monthlyOpenIncome)
	require.NoError(t, err)
	_, _, err = series.NewRegistry(st, st, mat, clockAt(2025)).Schedule(ctx, rule)
	require.NoError(t, err)

	pub := events.NewMemory()
	log := logging.NewWithOutput("info", "test", io.Discard)
	rollover, err := NewYearRollover(series.NewMutator(st, mat, clockAt(2026)), clockAt(2026), pub, log, "0 3 1 1 *")
	require.NoError(t, err)

	res, err := rollover.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2026, res.Year)
	assert.Equal(t, 12, res.Created())

	res, err = rollover.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created())

	years, err := st.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2026}, years)

	require.Len(t, pub.Events(), 2)
	assert.Equal(t, events.YearExtended, pub.Events()[0].Type)
	assert.Equal(t, 12, pub.Events()[0].Count)
}

func TestYearRollover_StartStop(t *testing.T) {
	log := logging.NewWithOutput("info", "test", io.Discard)
	st := store.NewMemory()
	mat := series.NewMaterializer(st, st)

	rollover, err := NewYearRollover(series.NewMutator(st, mat, clockAt(2025)), clockAt(2025), nil, log, "0 3 1 1 *")
	require.NoError(t, err)

	assert.True(t, rollover.NextRun().IsZero())
	rollover.Start()
	rollover.Start()
	assert.False(t, rollover.NextRun().IsZero())
	rollover.Stop()
	rollover.Stop()
}
