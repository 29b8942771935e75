package stp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

// Serves STP resolved schedules and associations out of a timetable
// reader.
type Repository struct {
	reader storage.TimetableReader
}

func NewRepository(reader storage.TimetableReader) *Repository {
	return &Repository{reader: reader}
}

// The authoritative schedule per UID operating on date, ordered by
// UID.
func (r *Repository) ResolveSchedules(ctx context.Context, date time.Time) ([]*model.ScheduleVariant, error) {
	candidates, err := r.reader.ScheduleCandidates(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("getting schedule candidates: %w", err)
	}

	resolved := ResolveSchedules(date, candidates)

	schedules := make([]*model.ScheduleVariant, 0, len(resolved))
	for _, s := range resolved {
		schedules = append(schedules, s)
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].UID < schedules[j].UID
	})

	return schedules, nil
}

// The authoritative association per main/assoc/location operating on
// date, ordered by that key.
func (r *Repository) ResolveAssociations(ctx context.Context, date time.Time) ([]*model.Association, error) {
	candidates, err := r.reader.AssociationCandidates(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("getting association candidates: %w", err)
	}

	resolved := ResolveAssociations(date, candidates)

	assocs := make([]*model.Association, 0, len(resolved))
	for _, a := range resolved {
		assocs = append(assocs, a)
	}
	sort.Slice(assocs, func(i, j int) bool {
		a, b := assocs[i], assocs[j]
		if a.MainUID != b.MainUID {
			return a.MainUID < b.MainUID
		}
		if a.AssocUID != b.AssocUID {
			return a.AssocUID < b.AssocUID
		}
		return a.Location < b.Location
	})

	return assocs, nil
}
