package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

// In memory implementation of Storage below

type memoryImportKey struct {
	Source string
	Hash   string
}

type memoryAssociationKey struct {
	main     string
	assoc    string
	location string
	stp      model.STPIndicator
	from     string
}

type MemoryStorage struct {
	mutex        sync.RWMutex
	imports      map[memoryImportKey]*ImportMetadata
	schedules    map[scheduleKey]*model.ScheduleVariant
	associations map[memoryAssociationKey]*model.Association
	nextID       int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		imports:      map[memoryImportKey]*ImportMetadata{},
		schedules:    map[scheduleKey]*model.ScheduleVariant{},
		associations: map[memoryAssociationKey]*model.Association{},
	}
}

func (s *MemoryStorage) ListImports(filter ListImportsFilter) ([]*ImportMetadata, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	imports := []*ImportMetadata{}
	for _, metadata := range s.imports {
		if filter.Source != "" && metadata.Source != filter.Source {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		m := *metadata
		imports = append(imports, &m)
	}
	sort.Slice(imports, func(i, j int) bool {
		return imports[i].ImportedAt.After(imports[j].ImportedAt)
	})
	return imports, nil
}

func (s *MemoryStorage) WriteImportMetadata(metadata *ImportMetadata) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m := *metadata
	s.imports[memoryImportKey{metadata.Source, metadata.Hash}] = &m
	return nil
}

func (s *MemoryStorage) GetWriter() (TimetableWriter, error) {
	return &memoryWriter{s: s}, nil
}

func (s *MemoryStorage) GetReader() (TimetableReader, error) {
	return s, nil
}

type memoryWriter struct {
	s *MemoryStorage
}

func (w *memoryWriter) BeginSchedules() error { return nil }
func (w *memoryWriter) EndSchedules() error   { return nil }
func (w *memoryWriter) Close() error          { return nil }

func (w *memoryWriter) WriteSchedule(schedule *model.ScheduleVariant) error {
	w.s.mutex.Lock()
	defer w.s.mutex.Unlock()

	w.s.nextID++
	sched := *schedule
	sched.ID = w.s.nextID
	sched.Locations = append([]model.StopPlan{}, schedule.Locations...)
	sort.SliceStable(sched.Locations, func(i, j int) bool {
		return sched.Locations[i].Sequence < sched.Locations[j].Sequence
	})
	w.s.schedules[keyOf(&sched)] = &sched
	return nil
}

func (w *memoryWriter) WriteAssociation(assoc *model.Association) error {
	w.s.mutex.Lock()
	defer w.s.mutex.Unlock()

	a := *assoc
	w.s.associations[memoryAssociationKey{a.MainUID, a.AssocUID, a.Location, a.STP, a.DateFrom}] = &a
	return nil
}

func operates(date time.Time, from, to, daysRun string) bool {
	d := railtime.FormatDate(date)
	if from > d || to < d {
		return false
	}
	i := railtime.WeekdayIndex(date)
	return len(daysRun) > i && daysRun[i] == '1'
}

func (s *MemoryStorage) ScheduleCandidates(ctx context.Context, date time.Time) ([]*model.ScheduleVariant, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := []*model.ScheduleVariant{}
	for _, sched := range s.schedules {
		if !operates(date, sched.RunsFrom, sched.RunsTo, sched.DaysRun) {
			continue
		}
		c := *sched
		c.Locations = append([]model.StopPlan{}, sched.Locations...)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UID != result[j].UID {
			return result[i].UID < result[j].UID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStorage) AssociationCandidates(ctx context.Context, date time.Time) ([]*model.Association, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := []*model.Association{}
	for _, assoc := range s.associations {
		if !operates(date, assoc.DateFrom, assoc.DateTo, assoc.DaysRun) {
			continue
		}
		a := *assoc
		result = append(result, &a)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.MainUID != b.MainUID {
			return a.MainUID < b.MainUID
		}
		if a.AssocUID != b.AssocUID {
			return a.AssocUID < b.AssocUID
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.STP < b.STP
	})
	return result, nil
}

func (s *MemoryStorage) Counts(ctx context.Context) (*TimetableCounts, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	counts := &TimetableCounts{Schedules: map[model.STPIndicator]int{}}
	for _, sched := range s.schedules {
		counts.Schedules[sched.STP]++
		counts.Locations += len(sched.Locations)
	}
	counts.Associations = len(s.associations)
	return counts, nil
}
