package railtime

import (
	"time"
)

const (
	MaxLateDelay   = 6 * time.Hour
	EarlyThreshold = 1 * time.Hour
	crossover      = 12 * time.Hour
)

// Delay of an observed event relative to its scheduled time.
type Delay struct {
	Seconds int

	// Set when the raw delay exceeded MaxLateDelay and was capped.
	Clamped bool

	// Set when the event was more than EarlyThreshold early. Not
	// clamped.
	Early bool
}

// Computes actual - scheduled. The scheduled clock is placed on the
// London calendar date of actual. Differences beyond 12 hours are
// retried with the schedule shifted a day in the appropriate
// direction, keeping whichever interpretation is smaller.
func ComputeDelay(actual time.Time, scheduled Clock) Delay {
	sched := scheduled.On(actual)
	diff := actual.Sub(sched)

	if diff > crossover {
		alt := actual.Sub(sched.AddDate(0, 0, 1))
		if abs(alt) < abs(diff) {
			diff = alt
		}
	} else if diff < -crossover {
		alt := actual.Sub(sched.AddDate(0, 0, -1))
		if abs(alt) < abs(diff) {
			diff = alt
		}
	}

	d := Delay{}
	if diff > MaxLateDelay {
		diff = MaxLateDelay
		d.Clamped = true
	} else if diff < -EarlyThreshold {
		d.Early = true
	}
	d.Seconds = int(diff / time.Second)
	return d
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
