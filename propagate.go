package activetrains

import (
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Booked dwell between arrival and departure, wrapping midnight.
func dwellSeconds(arr, dep railtime.Clock) int {
	d := int(dep) - int(arr)
	if d < 0 {
		d += 24 * 3600
	}
	return d
}

// Recomputes predicted times from the anchor stop to the end of the
// schedule.
//
// The anchor's predicted times are its scheduled times shifted by its
// observed delay, with any forecast fields taken verbatim over them.
// The delay is then carried forward: late running is recovered by
// sectional slack and by trimming dwells down to the stop's late
// dwell. Early running may show as an early arrival but never as an
// early departure or pass, and is not carried past the next leg.
// Forecast fields at later stops override the synthesized ones and
// reset the carried delay.
func Propagate(t *Train, anchor int) {
	if t.Schedule == nil || anchor < 0 || anchor >= len(t.Schedule.Stops) {
		return
	}
	stops := t.Schedule.Stops

	a := stops[anchor]
	delay := forecastDelay(a, 0)

	if a.Arrival.Valid {
		a.PredictedArrival = a.Arrival.Add(seconds(delay))
	}
	if a.Departure.Valid {
		a.PredictedDeparture = notEarly(a.Departure, delay)
	}
	if a.Pass.Valid {
		a.PredictedPass = notEarly(a.Pass, delay)
	}
	onward := delay
	if delay < 0 && (a.Departure.Valid || a.Pass.Valid) {
		// Left on time
		onward = 0
	}
	if a.HasForecast() {
		applyForecast(a)
		onward = leavingDelay(a, delay, onward)
	}
	delay = onward
	a.PredictedDelayMin = intPtr(delay / 60)

	for i := anchor + 1; i < len(stops); i++ {
		prev, stop := stops[i-1], stops[i]

		delay = max(delay-prev.RecoverySeconds, 0)

		if stop.HasForecast() {
			delay = forecastDelay(stop, delay)
			next := synthesize(stop, delay)
			applyForecast(stop)
			delay = leavingDelay(stop, delay, next)
		} else {
			delay = synthesize(stop, delay)
		}

		stop.PredictedDelayMin = intPtr(delay / 60)
	}
}

func notEarly(c railtime.NullClock, delay int) railtime.NullClock {
	if delay > 0 {
		return c.Add(seconds(delay))
	}
	return c
}

func delayOf(forecast, scheduled railtime.NullClock) int {
	return int(forecast.Clock.Sub(scheduled.Clock) / time.Second)
}

// Delay at a stop: its observed or forecast delay when known, else the
// one implied by its first forecast time, else the running delay.
func forecastDelay(stop *Stop, running int) int {
	switch {
	case stop.DelaySeconds != nil:
		return *stop.DelaySeconds
	case stop.ForecastArrival.Valid && stop.Arrival.Valid:
		return delayOf(stop.ForecastArrival, stop.Arrival)
	case stop.ForecastDeparture.Valid && stop.Departure.Valid:
		return delayOf(stop.ForecastDeparture, stop.Departure)
	case stop.ForecastPass.Valid && stop.Pass.Valid:
		return delayOf(stop.ForecastPass, stop.Pass)
	}
	return running
}

// Delay carried on from a stop with a forecast. A forecast departure
// or pass fixes it. Otherwise it is whatever synthesis left.
func leavingDelay(stop *Stop, delay, synthesized int) int {
	switch {
	case stop.DelaySeconds != nil && (stop.ForecastDeparture.Valid || stop.ForecastPass.Valid):
		return delay
	case stop.ForecastDeparture.Valid && stop.Departure.Valid:
		return delayOf(stop.ForecastDeparture, stop.Departure)
	case stop.ForecastPass.Valid && stop.Pass.Valid:
		return delayOf(stop.ForecastPass, stop.Pass)
	}
	return synthesized
}

// Only the forecast fields that are set replace predictions.
func applyForecast(s *Stop) {
	if s.ForecastArrival.Valid {
		s.PredictedArrival = s.ForecastArrival
	}
	if s.ForecastDeparture.Valid {
		s.PredictedDeparture = s.ForecastDeparture
	}
	if s.ForecastPass.Valid {
		s.PredictedPass = s.ForecastPass
	}
}

// Sets predicted times at a stop after the anchor from its scheduled
// times and the running delay. Returns the delay carried onwards.
func synthesize(stop *Stop, delay int) int {
	if stop.Arrival.Valid {
		stop.PredictedArrival = stop.Arrival.Add(seconds(delay))
	} else if stop.Pass.Valid {
		stop.PredictedPass = notEarly(stop.Pass, delay)
		if delay < 0 {
			delay = 0
		}
	}

	switch {
	case stop.Arrival.Valid && stop.Departure.Valid:
		if delay < 0 {
			stop.PredictedDeparture = stop.Departure
			return 0
		}
		dwell := dwellSeconds(stop.Arrival.Clock, stop.Departure.Clock)
		trim := max(dwell-stop.LateDwellSeconds, 0)
		offset := delay - trim
		if offset < 0 {
			// Can't leave before the booked time.
			stop.PredictedDeparture = stop.Departure
			return 0
		}
		stop.PredictedDeparture = stop.Departure.Add(seconds(offset))
		return delay - min(delay, trim)
	case stop.Departure.Valid:
		stop.PredictedDeparture = notEarly(stop.Departure, delay)
		if delay < 0 {
			return 0
		}
	}
	return delay
}
