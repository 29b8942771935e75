package activetrains

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

// Activation only considers trains departing their origin within this
// window of the first report.
const ActivationWindow = 6 * time.Hour

// Applies a realtime event to today's trains. The train is found by
// UID if given, else by headcode. Before MarkReady, events are queued
// and ErrNotReady is returned.
func (s *Store) HandleRealtime(ctx context.Context, evt *parse.RealtimeEvent) error {
	if err := s.enqueueIfNotReady(queuedUpdate{realtime: evt}); err != nil {
		return err
	}
	return s.handleRealtime(ctx, evt)
}

func (s *Store) handleRealtime(ctx context.Context, evt *parse.RealtimeEvent) error {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.mu.Lock()
	t := s.resolveLocked(evt, ts)
	if t == nil {
		s.mu.Unlock()
		s.logger.Info("dropping event for unknown train",
			"uid", evt.TrainID,
			"headcode", evt.Headcode,
			"tiploc", evt.Location,
			"event", evt.Kind,
		)
		s.observer.UpdateDropped("unknown_train")
		return fmt.Errorf("%w: uid '%s' headcode '%s'", ErrUnknownTrain, evt.TrainID, evt.Headcode)
	}

	changed, err := s.applyLocked(t, evt.Location, ts, evt.Kind, evt.FromBerth, evt.ToBerth)
	var updated *Train
	if changed {
		updated = t.Clone()
	}
	s.mu.Unlock()

	return s.notify(string(evt.Kind), updated, err)
}

// Applies a single state transition to the train with the given UID.
func (s *Store) ApplyUpdate(uid, location string, ts time.Time, kind parse.EventKind, fromBerth, toBerth string) error {
	s.mu.Lock()
	t, found := s.today.byUID[uid]
	if !found && kind == parse.EventDelete {
		t, found = s.today.finished[uid]
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: uid '%s'", ErrUnknownTrain, uid)
	}
	changed, err := s.applyLocked(t, location, ts, kind, fromBerth, toBerth)
	var updated *Train
	if changed {
		updated = t.Clone()
	}
	s.mu.Unlock()

	return s.notify(string(kind), updated, err)
}

func (s *Store) notify(kind string, updated *Train, err error) error {
	if err != nil {
		s.observer.UpdateDropped("unknown_location")
		return err
	}
	if updated != nil {
		s.observer.UpdateApplied(kind)
		s.observer.TrainUpdated(updated)
	}
	return nil
}

// Finds the train an event refers to, activating one if needed.
// Caller holds the write lock.
func (s *Store) resolveLocked(evt *parse.RealtimeEvent, ts time.Time) *Train {
	if evt.TrainID != "" {
		if t, found := s.today.byUID[evt.TrainID]; found {
			return t
		}
		if t, found := s.today.finished[evt.TrainID]; found && evt.Kind == parse.EventDelete {
			return t
		}
	}
	if evt.Headcode == "" {
		return nil
	}

	if t := s.selectLocked(evt.Headcode, evt.FromBerth); t != nil {
		return t
	}

	if evt.Kind == parse.EventDelete {
		if t, found := s.today.byHeadcode[evt.Headcode]; found {
			return t
		}
		return s.today.finishedByHeadcode[evt.Headcode]
	}

	return s.activateLocked(evt.Headcode, evt.ToBerth, ts)
}

// Picks among today's detected trains carrying headcode. Returns false
// if none are detected.
func (s *Store) SelectByHeadcode(headcode, fromBerth string) (*Train, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.selectLocked(headcode, fromBerth)
	if t == nil {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Store) selectLocked(headcode, fromBerth string) *Train {
	candidates := []*Train{}
	for _, t := range s.today.allByHeadcode[headcode] {
		if t.Detected {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UID < candidates[j].UID
	})

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	// A match that isn't unique doesn't narrow the later fallbacks,
	// which always look at every detected train.
	only := func(by string, keep func(*Train) bool) *Train {
		var match *Train
		n := 0
		for _, t := range candidates {
			if keep(t) {
				match = t
				n++
			}
		}
		if n > 1 {
			s.logger.Warn("ambiguous headcode after matching",
				"headcode", headcode,
				"by", by,
				"from_berth", fromBerth,
				"matches", n,
			)
		}
		if n != 1 {
			return nil
		}
		return match
	}

	if fromBerth != "" {
		if t := only("berth", func(t *Train) bool { return t.Berth == fromBerth }); t != nil {
			return t
		}
		if t := only("location", func(t *Train) bool { return t.LastLocation == fromBerth }); t != nil {
			return t
		}
	}

	if t := latest(candidates, func(t *Train) time.Time { return t.BerthTime }); t != nil {
		return t
	}
	if t := latest(candidates, (*Train).LatestForecast); t != nil {
		return t
	}

	s.logger.Warn("ambiguous headcode, using first by uid",
		"headcode", headcode,
		"candidates", len(candidates),
		"uid", candidates[0].UID,
	)
	return candidates[0]
}

// The train with the unique latest non-zero time, or nil.
func latest(trains []*Train, at func(*Train) time.Time) *Train {
	var best *Train
	bestAt := time.Time{}
	unique := false
	for _, t := range trains {
		tt := at(t)
		if tt.IsZero() {
			continue
		}
		switch {
		case tt.After(bestAt):
			best, bestAt, unique = t, tt, true
		case tt.Equal(bestAt):
			unique = false
		}
	}
	if !unique {
		return nil
	}
	return best
}

// Distance between ts and a clock time, taking whichever adjacent day
// puts them closest.
func clockDistance(ts time.Time, c railtime.Clock) time.Duration {
	l := ts.In(railtime.London)
	here := railtime.NewClock(l.Hour(), l.Minute(), l.Second())
	d := here.Sub(c)
	if d < 0 {
		d = -d
	}
	return d
}

// Scheduled time at the origin, preferring departure.
func originTime(t *Train) (railtime.Clock, bool) {
	if t.Schedule == nil || len(t.Schedule.Stops) == 0 {
		return 0, false
	}
	return scheduledTime(t.Schedule.Stops[0])
}

// Marks the undetected train with headcode whose origin time is
// closest to ts as detected. Caller holds the write lock.
func (s *Store) activateLocked(headcode, toBerth string, ts time.Time) *Train {
	all := s.today.allByHeadcode[headcode]
	if len(all) == 0 {
		return nil
	}

	type candidate struct {
		train    *Train
		distance time.Duration
	}
	within := []candidate{}
	others := []candidate{}
	for _, t := range all {
		if t.Detected || t.Terminated || t.Cancelled {
			continue
		}
		distance := time.Duration(1<<63 - 1)
		if c, ok := originTime(t); ok {
			distance = clockDistance(ts, c)
		}
		if distance <= ActivationWindow {
			within = append(within, candidate{t, distance})
		} else {
			others = append(others, candidate{t, distance})
		}
	}
	if len(within) == 0 {
		within = others
	}
	if len(within) == 0 {
		return nil
	}

	sort.SliceStable(within, func(i, j int) bool {
		if within[i].distance != within[j].distance {
			return within[i].distance < within[j].distance
		}
		return within[i].train.UID < within[j].train.UID
	})

	t := within[0].train
	t.Detected = true
	if toBerth != "" {
		t.Berth = toBerth
		t.BerthTime = ts
	}
	s.activeHeadcodes[headcode] = t.UID

	s.logger.Info("activated train",
		"headcode", headcode,
		"uid", t.UID,
		"berth", toBerth,
	)

	return t
}

// Preferred scheduled field for matching an event to one of several
// visits: the event's own, then departure, pass and arrival.
func matchTime(stop *Stop, kind parse.EventKind) (railtime.Clock, bool) {
	fields := []railtime.NullClock{stop.Departure, stop.Pass, stop.Arrival}
	switch kind {
	case parse.EventArrival:
		fields = append([]railtime.NullClock{stop.Arrival}, fields...)
	case parse.EventPass:
		fields = append([]railtime.NullClock{stop.Pass}, fields...)
	}
	for _, f := range fields {
		if f.Valid {
			return f.Clock, true
		}
	}
	return 0, false
}

// Of the stops at indexes, the one scheduled closest to ts.
func closestStop(t *Train, indexes []int, kind parse.EventKind, ts time.Time) int {
	best := indexes[0]
	bestDistance := time.Duration(-1)
	for _, idx := range indexes {
		c, ok := matchTime(t.Schedule.Stops[idx], kind)
		if !ok {
			continue
		}
		d := clockDistance(ts, c)
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = idx, d
		}
	}
	return best
}

// Applies one event to t. Reports whether t changed. Caller holds the
// write lock.
func (s *Store) applyLocked(t *Train, location string, ts time.Time, kind parse.EventKind, fromBerth, toBerth string) (bool, error) {
	if kind == parse.EventDelete {
		if t.Cancelled {
			s.removeLocked(t)
			return false, nil
		}
		t.Cancelled = true
		if !t.Terminated {
			t.TerminalTime = ts
		}
		s.removeLocked(t)
		s.logger.Info("train cancelled", "uid", t.UID, "headcode", t.Headcode)
		return true, nil
	}

	if t.Terminated || t.Cancelled {
		s.logger.Debug("ignoring event for finished train",
			"uid", t.UID,
			"headcode", t.Headcode,
			"event", kind,
		)
		return false, nil
	}

	if !t.Detected {
		t.Detected = true
		if t.Headcode != "" {
			s.activeHeadcodes[t.Headcode] = t.UID
		}
	}

	if kind == parse.EventStep {
		t.PreviousBerth = t.Berth
		t.Berth = toBerth
		t.BerthTime = ts
		return true, nil
	}

	if t.Schedule == nil || len(t.Schedule.Stops) == 0 {
		s.logger.Info("ignoring event for train without schedule", "uid", t.UID)
		return false, nil
	}

	indexes := t.StopsAt(location)
	if len(indexes) == 0 {
		s.logger.Warn("event at location not in schedule",
			"uid", t.UID,
			"headcode", t.Headcode,
			"tiploc", location,
			"event", kind,
		)
		return false, fmt.Errorf("%w: %s at '%s'", ErrUnknownLocation, t.UID, location)
	}

	idx := closestStop(t, indexes, kind, ts)
	stop := t.Schedule.Stops[idx]

	var scheduled railtime.Clock
	switch {
	case kind == parse.EventArrival && stop.Arrival.Valid:
		stop.ActualArrival = ts
		scheduled = stop.Arrival.Clock
	case kind == parse.EventDeparture && stop.Departure.Valid:
		stop.ActualDeparture = ts
		scheduled = stop.Departure.Clock
	case (kind == parse.EventPass || kind == parse.EventDeparture) && stop.Pass.Valid:
		stop.ActualPass = ts
		scheduled = stop.Pass.Clock
	default:
		s.logger.Info("no scheduled time for event",
			"uid", t.UID,
			"tiploc", location,
			"event", kind,
		)
		return false, nil
	}

	delay := railtime.ComputeDelay(ts, scheduled)
	if delay.Clamped {
		s.logger.Warn("delay clamped",
			"uid", t.UID,
			"tiploc", location,
			"delay_s", delay.Seconds,
		)
	} else if delay.Early {
		s.logger.Warn("train running very early",
			"uid", t.UID,
			"tiploc", location,
			"delay_s", delay.Seconds,
		)
	}
	stop.DelaySeconds = intPtr(delay.Seconds)

	t.LastLocation = location
	t.LastReportTime = ts
	if toBerth != "" {
		t.PreviousBerth = t.Berth
		t.Berth = toBerth
		t.BerthTime = ts
	}
	t.CurrentPosition = positionAfter(t, idx, kind != parse.EventArrival)

	Propagate(t, idx)

	if idx == len(t.Schedule.Stops)-1 {
		t.Terminated = true
		t.TerminalTime = ts
		s.removeLocked(t)
		s.logger.Info("train terminated", "uid", t.UID, "headcode", t.Headcode, "tiploc", location)
	}

	return true, nil
}
