package activetrains

import (
	"context"
	"fmt"

	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
)

// Applies forecast times to one of today's trains and repropagates
// from each forecasted stop. The train is found by UID, falling back
// to the headcode's slot.
func (s *Store) HandleForecast(ctx context.Context, evt *parse.ForecastEvent) error {
	if len(evt.Forecasts) == 0 {
		return ErrEmptyForecast
	}
	if err := s.enqueueIfNotReady(queuedUpdate{forecast: evt}); err != nil {
		return err
	}
	return s.handleForecast(ctx, evt)
}

func (s *Store) handleForecast(ctx context.Context, evt *parse.ForecastEvent) error {
	s.mu.Lock()
	var t *Train
	if evt.TrainID != "" {
		t = s.today.byUID[evt.TrainID]
	}
	if t == nil && evt.Headcode != "" {
		t = s.today.byHeadcode[evt.Headcode]
	}
	if t == nil {
		s.mu.Unlock()
		s.logger.Info("dropping forecast for unknown train",
			"uid", evt.TrainID,
			"headcode", evt.Headcode,
		)
		s.observer.UpdateDropped("unknown_train")
		return fmt.Errorf("%w: uid '%s' headcode '%s'", ErrUnknownTrain, evt.TrainID, evt.Headcode)
	}

	s.applyForecastLocked(t, evt)
	updated := t.Clone()
	s.mu.Unlock()

	s.observer.UpdateApplied("forecast")
	s.observer.TrainUpdated(updated)
	return nil
}

// Caller holds the write lock.
func (s *Store) applyForecastLocked(t *Train, evt *parse.ForecastEvent) {
	now := s.now()

	t.Detected = true
	if t.Headcode != "" {
		s.activeHeadcodes[t.Headcode] = t.UID
	}

	if evt.DelayMinutes != nil {
		t.ForecastDelayMin = cloneInt(evt.DelayMinutes)
		t.ForecastDelayAt = now
	}

	anchors := []int{}
	for _, f := range evt.Forecasts {
		idx := t.FirstStopAt(f.Location)
		if idx < 0 {
			s.logger.Warn("forecast for location not in schedule",
				"uid", t.UID,
				"headcode", t.Headcode,
				"tiploc", f.Location,
			)
			continue
		}

		stop := t.Schedule.Stops[idx]
		stop.ForecastArrival = f.Arrival
		stop.ForecastDeparture = f.Departure
		stop.ForecastPass = f.Pass
		if f.DelayMinutes != nil {
			stop.DelaySeconds = intPtr(*f.DelayMinutes * 60)
		}
		if f.Platform != "" {
			stop.ForecastPlatform = f.Platform
		}
		stop.ForecastTimestamp = f.Timestamp
		if stop.ForecastTimestamp.IsZero() {
			stop.ForecastTimestamp = now
		}

		anchors = append(anchors, idx)
	}

	for _, idx := range anchors {
		Propagate(t, idx)
	}
}
