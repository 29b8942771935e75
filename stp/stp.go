package stp

import (
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

// Identifies an association independent of its STP variant.
type AssociationKey struct {
	MainUID  string
	AssocUID string
	Location string
}

func KeyOf(a *model.Association) AssociationKey {
	return AssociationKey{a.MainUID, a.AssocUID, a.Location}
}

// True if a record valid from-to (YYYYMMDD, inclusive) with the given
// Monday-first days-run mask operates on date.
func Applies(date time.Time, from, to, daysRun string) bool {
	d := railtime.FormatDate(date)
	if from > d || to < d {
		return false
	}
	i := railtime.WeekdayIndex(date)
	return len(daysRun) > i && daysRun[i] == '1'
}

// Selects the authoritative schedule per UID for the given date.
//
// Candidates not operating on date are ignored. Of the remainder,
// the variant with the lowest STP priority number wins. UIDs won by a
// cancellation are left out of the result entirely.
func ResolveSchedules(date time.Time, candidates []*model.ScheduleVariant) map[string]*model.ScheduleVariant {
	return resolve(
		candidates,
		func(s *model.ScheduleVariant) bool { return Applies(date, s.RunsFrom, s.RunsTo, s.DaysRun) },
		func(s *model.ScheduleVariant) string { return s.UID },
		func(s *model.ScheduleVariant) model.STPIndicator { return s.STP },
	)
}

// As ResolveSchedules, for associations keyed by main/assoc/location.
func ResolveAssociations(date time.Time, candidates []*model.Association) map[AssociationKey]*model.Association {
	return resolve(
		candidates,
		func(a *model.Association) bool { return Applies(date, a.DateFrom, a.DateTo, a.DaysRun) },
		KeyOf,
		func(a *model.Association) model.STPIndicator { return a.STP },
	)
}

func resolve[K comparable, T any](
	candidates []T,
	applies func(T) bool,
	key func(T) K,
	indicator func(T) model.STPIndicator,
) map[K]T {
	winners := map[K]T{}
	for _, c := range candidates {
		if !applies(c) {
			continue
		}
		k := key(c)
		prev, found := winners[k]
		if !found || indicator(c).Priority() < indicator(prev).Priority() {
			winners[k] = c
		}
	}

	for k, w := range winners {
		if indicator(w) == model.STPCancellation {
			delete(winners, k)
		}
	}

	return winners
}
