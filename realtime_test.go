package activetrains_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

func nc(s string) railtime.NullClock {
	c, err := railtime.ParseNull(s)
	if err != nil {
		panic(err)
	}
	return c
}

func mustTrain(t *testing.T, store *activetrains.Store, uid string) *activetrains.Train {
	train, found := store.Train(uid)
	require.True(t, found, "train %s not found", uid)
	return train
}

func testRealtime(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	// Ten minutes late off Charing Cross
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "CHRX",
		Kind:      parse.EventDeparture,
		Timestamp: at(monday, 7, 48, 0),
	}))

	train := mustTrain(t, store, "P17935")
	assert.Equal(t, activetrains.Live, train.State())
	assert.Equal(t, "CHRX", train.LastLocation)
	assert.Equal(t, "Between CHRX and WLOE", train.CurrentPosition)
	assert.True(t, at(monday, 7, 48, 0).Equal(train.Schedule.Stops[0].ActualDeparture))
	assert.Equal(t, 600, *train.Schedule.Stops[0].DelaySeconds)
	assert.Equal(t, []predicted{
		{"", "07:48:00", "", 10},
		{"07:52:00", "07:52:30", "", 8},
		{"08:29:30", "", "", 8},
	}, predictions(train))

	uid, found := store.ActiveUID("2A45")
	assert.True(t, found)
	assert.Equal(t, "P17935", uid)

	// Arrival by headcode goes to the live train
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Location:  "WLOE",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 7, 53, 0),
		ToBerth:   "WL12",
	}))

	train = mustTrain(t, store, "P17935")
	assert.Equal(t, "At WLOE", train.CurrentPosition)
	assert.Equal(t, "WL12", train.Berth)
	assert.Equal(t, 660, *train.Schedule.Stops[1].DelaySeconds)
	assert.Equal(t, []predicted{
		{"", "07:48:00", "", 10},
		{"07:53:00", "07:55:00", "", 11},
		{"08:32:00", "", "", 11},
	}, predictions(train))

	// Berth steps
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Kind:      parse.EventStep,
		Timestamp: at(monday, 7, 56, 0),
		FromBerth: "WL12",
		ToBerth:   "WL14",
	}))
	train = mustTrain(t, store, "P17935")
	assert.Equal(t, "WL12", train.PreviousBerth)
	assert.Equal(t, "WL14", train.Berth)
	assert.True(t, at(monday, 7, 56, 0).Equal(train.BerthTime))

	assert.Equal(t, []string{"departure", "arrival", "step"}, f.observer.applied)
	require.Equal(t, 3, len(f.observer.updated))
	assert.Equal(t, "WL14", f.observer.updated[2].Berth)
}

// Predicted times, in the same shape as the whitebox propagation
// tests.
type predicted struct {
	arr, dep, pass string
	delayMin       int
}

func predictions(t *activetrains.Train) []predicted {
	out := []predicted{}
	for _, s := range t.Schedule.Stops {
		p := predicted{
			arr:  s.PredictedArrival.String(),
			dep:  s.PredictedDeparture.String(),
			pass: s.PredictedPass.String(),
		}
		if s.PredictedDelayMin != nil {
			p.delayMin = *s.PredictedDelayMin
		}
		out = append(out, p)
	}
	return out
}

func testRealtimeTermination(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "HAYS",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 8, 25, 0),
	}))

	_, found := store.Train("P17935")
	assert.False(t, found)
	_, found = store.ActiveUID("2A45")
	assert.False(t, found)

	require.Equal(t, 1, len(f.observer.updated))
	final := f.observer.updated[0]
	assert.Equal(t, activetrains.Terminated, final.State())
	assert.True(t, at(monday, 8, 25, 0).Equal(final.TerminalTime))
	assert.Equal(t, "At HAYS", final.CurrentPosition)
	assert.Equal(t, 4, *final.Schedule.Stops[2].PredictedDelayMin)

	err := store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "HAYS",
		Kind:      parse.EventDeparture,
		Timestamp: at(monday, 8, 30, 0),
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)
	assert.Equal(t, 3, store.Status().Today)
}

func testRealtimeRepeatedLocation(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	for _, evt := range []*parse.RealtimeEvent{
		{TrainID: "L12345", Location: "LEWISHM", Kind: parse.EventArrival, Timestamp: at(monday, 8, 6, 30)},
		{TrainID: "L12345", Location: "LEWISHM", Kind: parse.EventDeparture, Timestamp: at(monday, 8, 7, 10)},
		{TrainID: "L12345", Location: "LEWISHM", Kind: parse.EventPass, Timestamp: at(monday, 8, 16, 0)},
	} {
		require.NoError(t, store.HandleRealtime(ctx, evt))
	}

	train := mustTrain(t, store, "L12345")
	first, second := train.Schedule.Stops[1], train.Schedule.Stops[3]
	assert.True(t, at(monday, 8, 6, 30).Equal(first.ActualArrival))
	assert.True(t, at(monday, 8, 7, 10).Equal(first.ActualDeparture))
	assert.True(t, first.ActualPass.IsZero())
	assert.True(t, at(monday, 8, 16, 0).Equal(second.ActualPass))
	assert.Equal(t, 10, *first.DelaySeconds)
	assert.Equal(t, 30, *second.DelaySeconds)

	assert.Equal(t, "Between LEWISHM and CANONST", train.CurrentPosition)
	assert.Equal(t, "08:25:30", train.Schedule.Stops[4].PredictedArrival.String())
}

func testRealtimeUnknown(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	err := store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:  "X99999",
		Location: "CHRX",
		Kind:     parse.EventDeparture,
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)

	err = store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode: "9Z99",
		Kind:     parse.EventStep,
		ToBerth:  "CX01",
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)
	assert.Equal(t, []string{"unknown_train", "unknown_train"}, f.observer.dropped)

	// Not a location this train visits
	err = store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "BRGHTN",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 8, 0, 0),
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownLocation)

	// No arrival is booked at the origin
	err = store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P17935",
		Location:  "CHRX",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 7, 30, 0),
	})
	assert.NoError(t, err)
	train := mustTrain(t, store, "P17935")
	assert.True(t, train.Schedule.Stops[0].ActualArrival.IsZero())
	assert.Nil(t, train.Schedule.Stops[0].DelaySeconds)
	assert.Equal(t, 0, len(f.observer.applied))

	// Direct transitions need a known UID
	err = store.ApplyUpdate("X99999", "CHRX", at(monday, 7, 30, 0), parse.EventDeparture, "", "")
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)
	require.NoError(t, store.ApplyUpdate("P17935", "CHRX", at(monday, 7, 38, 0), parse.EventDeparture, "", ""))
	train = mustTrain(t, store, "P17935")
	assert.Equal(t, 0, *train.Schedule.Stops[0].DelaySeconds)
}

func testDuplicateHeadcode(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	// First report of the morning 2A45
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Kind:      parse.EventStep,
		Timestamp: at(monday, 7, 30, 0),
		ToBerth:   "CX01",
	}))
	uid, _ := store.ActiveUID("2A45")
	assert.Equal(t, "P17935", uid)
	assert.Equal(t, activetrains.Live, mustTrain(t, store, "P17935").State())
	assert.Equal(t, activetrains.Pending, mustTrain(t, store, "P20001").State())
	assert.Equal(t, "CX01", mustTrain(t, store, "P17935").Berth)

	// Reports keep going to it until it terminates
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Location:  "HAYS",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 8, 25, 0),
	}))
	_, found := store.Train("P17935")
	assert.False(t, found)

	// The evening 2A45 is activated by its first report
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Kind:      parse.EventStep,
		Timestamp: at(monday, 17, 30, 0),
		ToBerth:   "CX01",
	}))
	uid, _ = store.ActiveUID("2A45")
	assert.Equal(t, "P20001", uid)

	train, found := store.SelectByHeadcode("2A45", "")
	require.True(t, found)
	assert.Equal(t, "P20001", train.UID)
}

func testDisambiguation(t *testing.T, backend string) {
	ctx := context.Background()

	steps := func(store *activetrains.Store, evts ...*parse.RealtimeEvent) {
		for _, evt := range evts {
			evt.Kind = parse.EventStep
			require.NoError(t, store.HandleRealtime(ctx, evt))
		}
	}

	// By berth, then by last location, then by latest berth time
	f := readyFixture(t, backend)
	steps(f.store,
		&parse.RealtimeEvent{TrainID: "P17935", ToBerth: "HY01", Timestamp: at(monday, 8, 0, 0)},
		&parse.RealtimeEvent{TrainID: "P20001", ToBerth: "CX05", Timestamp: at(monday, 7, 59, 0)},
	)
	require.NoError(t, f.store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "P20001",
		Location:  "CHRX",
		Kind:      parse.EventDeparture,
		Timestamp: at(monday, 17, 40, 0),
	}))

	for _, tc := range []struct {
		fromBerth string
		expected  string
	}{
		{"CX05", "P20001"},
		{"HY01", "P17935"},
		{"CHRX", "P20001"},
		{"ZZ99", "P17935"},
		{"", "P17935"},
	} {
		train, found := f.store.SelectByHeadcode("2A45", tc.fromBerth)
		require.True(t, found)
		assert.Equal(t, tc.expected, train.UID, tc.fromBerth)
	}

	// An event from a berth goes to the train in it
	steps(f.store, &parse.RealtimeEvent{Headcode: "2A45", FromBerth: "CX05", ToBerth: "CX07", Timestamp: at(monday, 8, 1, 0)})
	assert.Equal(t, "CX07", mustTrain(t, f.store, "P20001").Berth)
	assert.Equal(t, "HY01", mustTrain(t, f.store, "P17935").Berth)

	// By latest forecast
	f = readyFixture(t, backend)
	for _, fc := range []*parse.ForecastEvent{
		{TrainID: "P17935", Forecasts: []parse.Forecast{{Location: "HAYS", Arrival: nc("08:30"), Timestamp: at(monday, 7, 0, 0)}}},
		{TrainID: "P20001", Forecasts: []parse.Forecast{{Location: "HAYS", Arrival: nc("18:30"), Timestamp: at(monday, 7, 5, 0)}}},
	} {
		require.NoError(t, f.store.HandleForecast(ctx, fc))
	}
	train, found := f.store.SelectByHeadcode("2A45", "")
	require.True(t, found)
	assert.Equal(t, "P20001", train.UID)

	// Nothing to go on: first by UID
	f = readyFixture(t, backend)
	steps(f.store,
		&parse.RealtimeEvent{TrainID: "P20001", ToBerth: "CX01", Timestamp: at(monday, 7, 0, 0)},
		&parse.RealtimeEvent{TrainID: "P17935", ToBerth: "CX01", Timestamp: at(monday, 7, 0, 0)},
	)
	train, found = f.store.SelectByHeadcode("2A45", "CX01")
	require.True(t, found)
	assert.Equal(t, "P17935", train.UID)

	// Undetected trains are never selected
	_, found = f.store.SelectByHeadcode("2L12", "")
	assert.False(t, found)
}

func testDelete(t *testing.T, backend string) {
	f := readyFixture(t, backend)
	store := f.store
	ctx := context.Background()

	// Nothing detected, falls back to the headcode's slot
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode:  "2A45",
		Kind:      parse.EventDelete,
		Timestamp: at(monday, 7, 0, 0),
	}))
	_, found := store.Train("P17935")
	assert.False(t, found)
	require.Equal(t, 1, len(f.observer.updated))
	assert.Equal(t, activetrains.Cancelled, f.observer.updated[0].State())
	assert.True(t, at(monday, 7, 0, 0).Equal(f.observer.updated[0].TerminalTime))

	// Deleting again is harmless, by headcode or UID
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode: "2A45",
		Kind:     parse.EventDelete,
	}))
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID: "P17935",
		Kind:    parse.EventDelete,
	}))
	require.NoError(t, store.ApplyUpdate("P17935", "", at(monday, 7, 1, 0), parse.EventDelete, "", ""))
	assert.Equal(t, 1, len(f.observer.updated))

	// Other events for it are still unknown
	err := store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:  "P17935",
		Location: "CHRX",
		Kind:     parse.EventDeparture,
	})
	assert.ErrorIs(t, err, activetrains.ErrUnknownTrain)

	// The evening train is unaffected, and can be deleted by UID
	assert.Equal(t, activetrains.Pending, mustTrain(t, store, "P20001").State())
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID: "P20001",
		Kind:    parse.EventDelete,
	}))
	_, found = store.Train("P20001")
	assert.False(t, found)
	assert.Equal(t, 2, store.Status().Today)

	// A terminated train can still be deleted
	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "A00001",
		Location:  "ORPNGTN",
		Kind:      parse.EventArrival,
		Timestamp: at(monday, 8, 52, 0),
	}))
	_, found = store.Train("A00001")
	assert.False(t, found)

	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		TrainID:   "A00001",
		Kind:      parse.EventDelete,
		Timestamp: at(monday, 9, 0, 0),
	}))
	deleted := f.observer.updated[len(f.observer.updated)-1]
	assert.Equal(t, "A00001", deleted.UID)
	assert.Equal(t, activetrains.Cancelled, deleted.State())
	assert.True(t, at(monday, 8, 52, 0).Equal(deleted.TerminalTime))

	require.NoError(t, store.HandleRealtime(ctx, &parse.RealtimeEvent{
		Headcode: "2A46",
		Kind:     parse.EventDelete,
	}))
}
