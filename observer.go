package activetrains

import "time"

// Receives notifications of store activity. Methods are called with no
// store lock held, and must not block for long.
type Observer interface {
	// A registry slot ("today" or "tomorrow") was loaded.
	TimetableLoaded(slot string, date time.Time, trains int)

	// An update was applied. Kind is a realtime event kind or
	// "forecast".
	UpdateApplied(kind string)

	// An update was dropped, e.g. "unknown_train".
	UpdateDropped(reason string)

	// An update was queued while not ready. Depth is the queue
	// length after queueing.
	UpdateQueued(depth int)

	// The oldest queued update was discarded to make room.
	QueueOverflowed()

	RolledOver(date time.Time, err error)

	// Rollover promoted an empty registry and loaded today directly.
	RolloverFallback()

	// A copy of a train after it changed.
	TrainUpdated(train *Train)
}

type NopObserver struct{}

func (NopObserver) TimetableLoaded(string, time.Time, int) {}
func (NopObserver) UpdateApplied(string)                  {}
func (NopObserver) UpdateDropped(string)                  {}
func (NopObserver) UpdateQueued(int)                      {}
func (NopObserver) QueueOverflowed()                      {}
func (NopObserver) RolledOver(time.Time, error)           {}
func (NopObserver) RolloverFallback()                     {}
func (NopObserver) TrainUpdated(*Train)                   {}

// Fans notifications out to several observers, in order.
type MultiObserver []Observer

func (m MultiObserver) TimetableLoaded(slot string, date time.Time, trains int) {
	for _, o := range m {
		o.TimetableLoaded(slot, date, trains)
	}
}

func (m MultiObserver) UpdateApplied(kind string) {
	for _, o := range m {
		o.UpdateApplied(kind)
	}
}

func (m MultiObserver) UpdateDropped(reason string) {
	for _, o := range m {
		o.UpdateDropped(reason)
	}
}

func (m MultiObserver) UpdateQueued(depth int) {
	for _, o := range m {
		o.UpdateQueued(depth)
	}
}

func (m MultiObserver) QueueOverflowed() {
	for _, o := range m {
		o.QueueOverflowed()
	}
}

func (m MultiObserver) RolledOver(date time.Time, err error) {
	for _, o := range m {
		o.RolledOver(date, err)
	}
}

func (m MultiObserver) RolloverFallback() {
	for _, o := range m {
		o.RolloverFallback()
	}
}

func (m MultiObserver) TrainUpdated(train *Train) {
	for _, o := range m {
		o.TrainUpdated(train)
	}
}
