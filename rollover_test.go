package activetrains_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
)

func testRollover(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()
	tuesday := monday.AddDate(0, 0, 1)

	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Kind:      parse.EventStep,
		Timestamp: at(monday, 7, 30, 0),
		ToBerth:   "CX01",
	}))

	// Still Monday's railway day at 01:59 Tuesday
	f.clock.Set(at(tuesday, 1, 59, 0))
	require.NoError(t, store.Rollover(ctx))
	assert.True(t, monday.Equal(store.Status().RailwayDate))

	f.clock.Set(at(tuesday, 2, 5, 0))
	require.NoError(t, store.Rollover(ctx))

	status := store.Status()
	assert.True(t, tuesday.Equal(status.RailwayDate))
	assert.Equal(t, 5, status.Today)
	assert.Equal(t, 5, status.Tomorrow)
	assert.Equal(t, 0, status.ActiveHeadcodes)

	// Tuesday's trains, fresh
	_, found := store.Train("W55555")
	assert.True(t, found)
	train := mustTrain(t, store, "P17935")
	assert.Equal(t, activetrains.Pending, train.State())
	assert.Equal(t, "", train.Berth)
	_, found = store.ActiveUID("2A45")
	assert.False(t, found)

	assert.Equal(t, 0, f.observer.fallbacks)
	assert.Equal(t, []error{nil}, f.observer.rollovers)

	// Again on the same day is a no-op
	require.NoError(t, store.Rollover(ctx))
	assert.Equal(t, []error{nil}, f.observer.rollovers)
}

func testRolloverFallback(t *testing.T, backend string) {
	tuesday := monday.AddDate(0, 0, 1)
	f := buildFixture(t, backend, at(tuesday, 3, 0, 0))
	store := f.store
	ctx := context.Background()

	// Nothing loaded, so nothing to promote
	require.NoError(t, store.Rollover(ctx))

	status := store.Status()
	assert.True(t, tuesday.Equal(status.RailwayDate))
	assert.Equal(t, 5, status.Today)
	assert.Equal(t, 5, status.Tomorrow)
	assert.Equal(t, 1, f.observer.fallbacks)

	// Fallback load failing leaves everything as it was
	wednesday := tuesday.AddDate(0, 0, 1)
	f = buildFixture(t, backend, at(wednesday, 3, 0, 0))
	f.repo.fail(wednesday, true)
	err := f.store.Rollover(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, f.store.Status().Today)
	assert.True(t, f.store.Status().RailwayDate.IsZero())
	require.Equal(t, 1, len(f.observer.rollovers))
	assert.Error(t, f.observer.rollovers[0])
}

func testRolloverTomorrowFailure(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()
	tuesday := monday.AddDate(0, 0, 1)
	wednesday := tuesday.AddDate(0, 0, 1)

	f.repo.fail(wednesday, true)
	f.clock.Set(at(tuesday, 2, 0, 30))

	err := store.Rollover(ctx)
	assert.Error(t, err)

	// Promoted anyway
	status := store.Status()
	assert.True(t, tuesday.Equal(status.RailwayDate))
	assert.Equal(t, 5, status.Today)
	assert.Equal(t, 0, status.Tomorrow)
	_, found := store.Train("W55555")
	assert.True(t, found)

	require.Equal(t, 1, len(f.observer.rollovers))
	assert.Error(t, f.observer.rollovers[0])
}
