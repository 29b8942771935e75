package activetrains_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
)

func intPtr(v int) *int {
	return &v
}

func testForecast(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	require.NoError(t, store.HandleForecast(ctx, &parse.ForecastEvent{
		TrainID: "P17935",
		Forecasts: []parse.Forecast{
			{
				Location:     "WLOE",
				Arrival:      nc("07:59"),
				Departure:    nc("08:01"),
				DelayMinutes: intPtr(17),
				Platform:     "A",
				Timestamp:    at(monday, 7, 30, 0),
			},
			{
				Location: "NOWHERE",
				Arrival:  nc("08:10"),
			},
		},
		DelayMinutes: intPtr(17),
	}))

	train := mustTrain(t, store, "P17935")
	assert.Equal(t, activetrains.Live, train.State())
	require.NotNil(t, train.ForecastDelayMin)
	assert.Equal(t, 17, *train.ForecastDelayMin)

	wloe := train.Schedule.Stops[1]
	assert.Equal(t, "07:59:00", wloe.ForecastArrival.String())
	assert.Equal(t, "A", wloe.ForecastPlatform)
	assert.Equal(t, 17*60, *wloe.DelaySeconds)
	assert.True(t, at(monday, 7, 30, 0).Equal(wloe.ForecastTimestamp))

	assert.Equal(t, []predicted{
		{"", "07:38:00", "", 0},
		{"07:59:00", "08:01:00", "", 17},
		{"08:38:00", "", "", 17},
	}, predictions(train))

	uid, found := store.ActiveUID("2A45")
	assert.True(t, found)
	assert.Equal(t, "P17935", uid)

	// Unknown UID falls back to the headcode. No timestamp means
	// now.
	require.NoError(t, store.HandleForecast(ctx, &parse.ForecastEvent{
		TrainID:  "NOPE",
		Headcode: "2A46",
		Forecasts: []parse.Forecast{
			{Location: "ORPNGTN", Arrival: nc("08:55")},
		},
	}))
	next := mustTrain(t, store, "A00001")
	orpington := next.Schedule.Stops[1]
	assert.Equal(t, "08:55:00", orpington.PredictedArrival.String())
	assert.Equal(t, 5, *orpington.PredictedDelayMin)
	assert.True(t, f.clock.Now().Equal(orpington.ForecastTimestamp))
	assert.Nil(t, next.ForecastDelayMin)

	// Forecasts override later realtime propagation at their stop
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "CHRX",
		Kind:      parse.EventDeparture,
		Timestamp: at(monday, 7, 40, 0),
	}))
	train = mustTrain(t, store, "P17935")
	assert.Equal(t, []predicted{
		{"", "07:40:00", "", 2},
		{"07:59:00", "08:01:00", "", 17},
		{"08:38:00", "", "", 17},
	}, predictions(train))

	err := store.HandleForecast(ctx, &parse.ForecastEvent{TrainID: "P17935"})
	assert.ErrorIs(t, err, activetrains.ErrEmptyForecast)

	err = store.HandleForecast(ctx, &parse.ForecastEvent{
		TrainID:   "X99999",
		Forecasts: []parse.Forecast{{Location: "HAYS"}},
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)

	assert.Equal(t, []string{"forecast", "forecast", "departure"}, f.observer.applied)
}

func testReadiness(t *testing.T, backend string) {
	f := buildFixture(t, backend, at(monday, 6, 0, 0))
	store := f.store
	ctx := context.Background()
	require.NoError(t, store.Refresh(ctx, monday))

	err := store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "CHRX",
		Kind:      parse.EventDeparture,
		Timestamp: at(monday, 7, 48, 0),
	})
	assert.ErrorIs(t, err, activetrains.ErrNotReady)

	err = store.HandleForecast(ctx, &parse.ForecastEvent{
		TrainID: "P17935",
		Forecasts: []parse.Forecast{
			{Location: "HAYS", Arrival: nc("08:40"), DelayMinutes: intPtr(19)},
		},
	})
	assert.ErrorIs(t, err, activetrains.ErrNotReady)

	// Empty forecasts aren't queued
	err = store.HandleForecast(ctx, &parse.ForecastEvent{TrainID: "P17935"})
	assert.ErrorIs(t, err, activetrains.ErrEmptyForecast)

	status := store.Status()
	assert.False(t, status.Ready)
	assert.Equal(t, 2, status.Queued)

	// Nothing applied yet
	train := mustTrain(t, store, "P17935")
	assert.True(t, train.Schedule.Stops[0].ActualDeparture.IsZero())
	assert.Equal(t, 0, len(f.observer.applied))

	store.MarkReady(ctx)

	status = store.Status()
	assert.True(t, status.Ready)
	assert.True(t, store.Ready())
	assert.Equal(t, 0, status.Queued)
	assert.Equal(t, []string{"departure", "forecast"}, f.observer.applied)

	train = mustTrain(t, store, "P17935")
	assert.True(t, at(monday, 7, 48, 0).Equal(train.Schedule.Stops[0].ActualDeparture))
	assert.Equal(t, []predicted{
		{"", "07:48:00", "", 10},
		{"07:52:00", "07:52:30", "", 8},
		{"08:40:00", "", "", 19},
	}, predictions(train))

	// Once only
	store.MarkReady(ctx)
	assert.Equal(t, []string{"departure", "forecast"}, f.observer.applied)

	// And now events apply directly
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "WLOE",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 7, 52, 0),
	}))
	assert.Equal(t, []string{"departure", "forecast", "arrival"}, f.observer.applied)
}

func testReadinessOverflow(t *testing.T, backend string) {
	f := buildFixture(t, backend, at(monday, 6, 0, 0))
	store := activetrains.NewStore(f.repo, activetrains.StoreOptions{
		Observer:  f.observer,
		Now:       f.clock.Now,
		QueueSize: 2,
	})
	ctx := context.Background()
	require.NoError(t, store.Refresh(ctx, monday))

	for i, berth := range []string{"CX01", "CX02", "CX03"} {
		err := store.HandleRealtime(ctx, &parse.RealtimeEvent{
			Headcode:  "2A45",
			Kind:      parse.EventStep,
			Timestamp: at(monday, 7, 30+i, 0),
			ToBerth:   berth,
		})
		assert.ErrorIs(t, err, activetrains.ErrNotReady)
	}

	status := store.Status()
	assert.Equal(t, 2, status.Queued)
	assert.Equal(t, 1, status.Overflowed)
	assert.Equal(t, 1, f.observer.overflows)

	store.MarkReady(ctx)

	// The oldest step was lost
	train := mustTrain(t, store, "P17935")
	assert.Equal(t, "CX02", train.PreviousBerth)
	assert.Equal(t, "CX03", train.Berth)
	assert.Equal(t, []string{"step", "step"}, f.observer.applied)
}
