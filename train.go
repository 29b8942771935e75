package activetrains

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

type TrainState int

const (
	// Loaded from the timetable, not yet seen by any feed.
	Pending TrainState = iota
	Live
	Terminated
	Cancelled
)

func (s TrainState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Live:
		return "live"
	case Terminated:
		return "terminated"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("TrainState(%d)", int(s))
}

// An association as seen from one of its two trains. The other train
// is referenced by UID only.
type Association struct {
	MainUID       string
	AssocUID      string
	OtherUID      string
	Category      model.AssociationCategory
	DateIndicator string
	Location      string
	BaseSuffix    string
	AssocSuffix   string
	STP           model.STPIndicator
	DateFrom      string
	DateTo        string
	DaysRun       string
}

// Live state of one call or pass of a train.
type Stop struct {
	Sequence             int
	Tiploc               string
	Recurrence           int
	Kind                 model.LocationKind
	Arrival              railtime.NullClock
	Departure            railtime.NullClock
	Pass                 railtime.NullClock
	PublicArrival        railtime.NullClock
	PublicDeparture      railtime.NullClock
	Platform             string
	Line                 string
	Path                 string
	Activity             string
	EngineeringAllowance string
	PathingAllowance     string
	PerformanceAllowance string

	// Minimum dwell kept when running late.
	LateDwellSeconds int

	// Sectional recovery slack towards the next stop. No timing
	// data source provides this yet, so it is always 0.
	RecoverySeconds int

	ActualArrival   time.Time
	ActualDeparture time.Time
	ActualPass      time.Time
	DelaySeconds    *int

	ForecastArrival   railtime.NullClock
	ForecastDeparture railtime.NullClock
	ForecastPass      railtime.NullClock
	ForecastTimestamp time.Time
	ForecastPlatform  string

	PredictedArrival   railtime.NullClock
	PredictedDeparture railtime.NullClock
	PredictedPass      railtime.NullClock
	PredictedDelayMin  *int

	// Keyed by the other train's headcode.
	Associations map[string]Association
}

func (s *Stop) HasForecast() bool {
	return s.ForecastArrival.Valid || s.ForecastDeparture.Valid || s.ForecastPass.Valid
}

type Schedule struct {
	ID              int64
	UID             string
	STP             model.STPIndicator
	TransactionType string
	RunsFrom        string
	RunsTo          string
	DaysRun         string
	Headcode        string
	Category        string
	Status          string
	ServiceCode     string
	PowerType       string
	TimingLoad      string
	Speed           int
	OperatingChars  string
	Stops           []*Stop
}

type Train struct {
	UID      string
	Headcode string
	Schedule *Schedule

	Berth           string
	PreviousBerth   string
	BerthTime       time.Time
	LastLocation    string
	LastReportTime  time.Time
	CurrentPosition string

	Detected     bool
	Terminated   bool
	Cancelled    bool
	TerminalTime time.Time

	// Train level delay from the most recent forecast, if given.
	ForecastDelayMin *int
	ForecastDelayAt  time.Time

	// Keyed by location.
	Associations map[string][]Association
}

func (t *Train) State() TrainState {
	switch {
	case t.Cancelled:
		return Cancelled
	case t.Terminated:
		return Terminated
	case t.Detected:
		return Live
	}
	return Pending
}

// Indexes of the stops at tiploc, in schedule order.
func (t *Train) StopsAt(tiploc string) []int {
	if t.Schedule == nil {
		return nil
	}
	idx := []int{}
	for i, stop := range t.Schedule.Stops {
		if stop.Tiploc == tiploc {
			idx = append(idx, i)
		}
	}
	return idx
}

// Index of the first stop at tiploc, or -1.
func (t *Train) FirstStopAt(tiploc string) int {
	if t.Schedule == nil {
		return -1
	}
	for i, stop := range t.Schedule.Stops {
		if stop.Tiploc == tiploc {
			return i
		}
	}
	return -1
}

// Most recent forecast timestamp over all stops.
func (t *Train) LatestForecast() time.Time {
	latest := time.Time{}
	if t.Schedule == nil {
		return latest
	}
	for _, stop := range t.Schedule.Stops {
		if stop.ForecastTimestamp.After(latest) {
			latest = stop.ForecastTimestamp
		}
	}
	return latest
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(v int) *int {
	return &v
}

// Deep copy, sharing nothing mutable with the original.
func (t *Train) Clone() *Train {
	c := *t
	c.ForecastDelayMin = cloneInt(t.ForecastDelayMin)

	if t.Associations != nil {
		c.Associations = make(map[string][]Association, len(t.Associations))
		for loc, assocs := range t.Associations {
			c.Associations[loc] = append([]Association{}, assocs...)
		}
	}

	if t.Schedule != nil {
		sched := *t.Schedule
		sched.Stops = make([]*Stop, len(t.Schedule.Stops))
		for i, stop := range t.Schedule.Stops {
			s := *stop
			s.DelaySeconds = cloneInt(stop.DelaySeconds)
			s.PredictedDelayMin = cloneInt(stop.PredictedDelayMin)
			if stop.Associations != nil {
				s.Associations = make(map[string]Association, len(stop.Associations))
				for k, v := range stop.Associations {
					s.Associations[k] = v
				}
			}
			sched.Stops[i] = &s
		}
		c.Schedule = &sched
	}

	return &c
}

// Per location minimum dwell, in seconds, kept by a late running
// train.
type LateDwell struct {
	Default  int
	ByTiploc map[string]int
}

func DefaultLateDwell() LateDwell {
	return LateDwell{
		Default: 30,
		ByTiploc: map[string]int{
			"LESTER":  45,
			"HTHRGRN": 30,
		},
	}
}

func (l LateDwell) For(tiploc string) int {
	if secs, found := l.ByTiploc[tiploc]; found {
		return secs
	}
	return l.Default
}

// Builds a train from a resolved schedule. Predicted times start out
// equal to the scheduled ones. Times that fail to parse are left
// unset.
func newTrain(v *model.ScheduleVariant, lateDwell LateDwell, logger *slog.Logger) *Train {
	sched := &Schedule{
		ID:              v.ID,
		UID:             v.UID,
		STP:             v.STP,
		TransactionType: v.TransactionType,
		RunsFrom:        v.RunsFrom,
		RunsTo:          v.RunsTo,
		DaysRun:         v.DaysRun,
		Headcode:        v.Headcode,
		Category:        v.Category,
		Status:          v.Status,
		ServiceCode:     v.ServiceCode,
		PowerType:       v.PowerType,
		TimingLoad:      v.TimingLoad,
		Speed:           v.Speed,
		OperatingChars:  v.OperatingChars,
		Stops:           make([]*Stop, 0, len(v.Locations)),
	}

	clock := func(loc model.StopPlan, field, value string) railtime.NullClock {
		c, err := railtime.ParseNull(value)
		if err != nil {
			logger.Warn("malformed scheduled time",
				"uid", v.UID,
				"tiploc", loc.Tiploc,
				"field", field,
				"value", value,
			)
			return railtime.NullClock{}
		}
		return c
	}

	for _, loc := range v.Locations {
		stop := &Stop{
			Sequence:             loc.Sequence,
			Tiploc:               loc.Tiploc,
			Recurrence:           loc.Recurrence,
			Kind:                 loc.Kind,
			Arrival:              clock(loc, "arr", loc.Arrival),
			Departure:            clock(loc, "dep", loc.Departure),
			Pass:                 clock(loc, "pass", loc.Pass),
			PublicArrival:        clock(loc, "public_arr", loc.PublicArrival),
			PublicDeparture:      clock(loc, "public_dep", loc.PublicDeparture),
			Platform:             loc.Platform,
			Line:                 loc.Line,
			Path:                 loc.Path,
			Activity:             loc.Activity,
			EngineeringAllowance: loc.EngineeringAllowance,
			PathingAllowance:     loc.PathingAllowance,
			PerformanceAllowance: loc.PerformanceAllowance,
			LateDwellSeconds:     lateDwell.For(loc.Tiploc),
			Associations:         map[string]Association{},
		}
		stop.PredictedArrival = stop.Arrival
		stop.PredictedDeparture = stop.Departure
		stop.PredictedPass = stop.Pass
		stop.PredictedDelayMin = intPtr(0)

		sched.Stops = append(sched.Stops, stop)
	}

	return &Train{
		UID:          v.UID,
		Headcode:     v.Headcode,
		Schedule:     sched,
		Associations: map[string][]Association{},
	}
}

// Human readable position after an event at stop idx.
func positionAfter(t *Train, idx int, departed bool) string {
	stops := t.Schedule.Stops
	here := stops[idx].Tiploc
	if !departed {
		return fmt.Sprintf("At %s", here)
	}
	if idx < len(stops)-1 {
		return fmt.Sprintf("Between %s and %s", here, stops[idx+1].Tiploc)
	}
	return fmt.Sprintf("Departed %s (journey complete)", here)
}
