package parse

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

type ScheduleLocationCSV struct {
	UID                  string `csv:"uid"`
	STPIndicator         string `csv:"stp_indicator"`
	RunsFrom             string `csv:"runs_from"`
	Sequence             int    `csv:"sequence"`
	Tiploc               string `csv:"tiploc"`
	LocationType         string `csv:"location_type"`
	Arrival              string `csv:"arr"`
	Departure            string `csv:"dep"`
	Pass                 string `csv:"pass"`
	PublicArrival        string `csv:"public_arr"`
	PublicDeparture      string `csv:"public_dep"`
	Platform             string `csv:"platform"`
	Line                 string `csv:"line"`
	Path                 string `csv:"path"`
	Activity             string `csv:"activity"`
	EngineeringAllowance string `csv:"engineering_allowance"`
	PathingAllowance     string `csv:"pathing_allowance"`
	PerformanceAllowance string `csv:"performance_allowance"`
}

// Normalizes a timetable time to HH:MM:SS. Empty stays empty. Hours
// 24-27 are folded into the following morning.
func parseLocationTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	c, _, err := railtime.ParseExtended(s)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Parses schedule_locations.csv, attaching each location to its
// schedule. Locations end up ordered by sequence. Returns the number
// of locations read.
func ParseScheduleLocations(data io.Reader, schedules []*model.ScheduleVariant) (int, error) {
	byKey := map[ScheduleKey]*model.ScheduleVariant{}
	for _, s := range schedules {
		byKey[KeyOf(s)] = s
	}

	seqSeen := map[ScheduleKey]map[int]bool{}
	count := 0

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(l *ScheduleLocationCSV) error {
		i += 1

		key := ScheduleKey{l.UID, model.STPIndicator(l.STPIndicator), l.RunsFrom}
		sched, found := byKey[key]
		if !found {
			return fmt.Errorf("unknown schedule %s/%s/%s (row %d)", l.UID, l.STPIndicator, l.RunsFrom, i+1)
		}

		if seqSeen[key] == nil {
			seqSeen[key] = map[int]bool{}
		}
		if seqSeen[key][l.Sequence] {
			return fmt.Errorf("duplicate sequence %d for %s (row %d)", l.Sequence, l.UID, i+1)
		}
		seqSeen[key][l.Sequence] = true

		if l.Tiploc == "" {
			return fmt.Errorf("missing tiploc (row %d)", i+1)
		}
		tiploc, recurrence := model.SplitRecurrence(l.Tiploc)

		kind := model.LocationKind(l.LocationType)
		if !kind.Valid() {
			return fmt.Errorf("invalid location_type '%s' (row %d)", l.LocationType, i+1)
		}

		times := map[string]*string{
			"arr":        &l.Arrival,
			"dep":        &l.Departure,
			"pass":       &l.Pass,
			"public_arr": &l.PublicArrival,
			"public_dep": &l.PublicDeparture,
		}
		for field, value := range times {
			normalized, err := parseLocationTime(*value)
			if err != nil {
				return errors.Wrapf(err, "parsing %s (row %d)", field, i+1)
			}
			*value = normalized
		}

		sched.Locations = append(sched.Locations, model.StopPlan{
			Sequence:             l.Sequence,
			Tiploc:               tiploc,
			Recurrence:           recurrence,
			Kind:                 kind,
			Arrival:              l.Arrival,
			Departure:            l.Departure,
			Pass:                 l.Pass,
			PublicArrival:        l.PublicArrival,
			PublicDeparture:      l.PublicDeparture,
			Platform:             l.Platform,
			Line:                 l.Line,
			Path:                 l.Path,
			Activity:             l.Activity,
			EngineeringAllowance: l.EngineeringAllowance,
			PathingAllowance:     l.PathingAllowance,
			PerformanceAllowance: l.PerformanceAllowance,
		})
		count++

		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "unmarshaling schedule_locations csv")
	}

	for _, s := range schedules {
		sort.SliceStable(s.Locations, func(i, j int) bool {
			return s.Locations[i].Sequence < s.Locations[j].Sequence
		})
	}

	return count, nil
}
