package storage

import (
	"context"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
)

type Storage interface {
	// Retrieves all import records matching the given filter,
	// most recent first.
	ListImports(filter ListImportsFilter) ([]*ImportMetadata, error)

	// Writes an ImportMetadata record. If a record with the same
	// source and hash exists, it is updated.
	WriteImportMetadata(metadata *ImportMetadata) error

	// Gets a writer for timetable records.
	GetWriter() (TimetableWriter, error)

	// Gets a reader for timetable records.
	GetReader() (TimetableReader, error)
}

type ListImportsFilter struct {
	// If set, only include imports from the given source.
	Source string

	// If set, only include imports with the given hash.
	Hash string
}

// Records a timetable extract that has been loaded into storage.
type ImportMetadata struct {
	Hash         string
	Source       string
	ImportedAt   time.Time
	StartDate    string
	EndDate      string
	Schedules    int
	Locations    int
	Associations int
}

// Writes timetable records.
//
// Schedules are written between BeginSchedules() and EndSchedules(),
// allowing transactions/batching. A schedule with the same UID, STP
// indicator and start date as an existing one replaces it, along with
// its locations. Associations are replaced likewise on main UID,
// associated UID, location, STP indicator and start date.
type TimetableWriter interface {
	BeginSchedules() error
	WriteSchedule(schedule *model.ScheduleVariant) error
	EndSchedules() error
	WriteAssociation(assoc *model.Association) error
	Close() error
}

type TimetableReader interface {
	// All schedule variants, of every STP indicator, whose
	// validity range includes date and whose days-run mask has
	// date's weekday set. Locations are included, ordered by
	// sequence.
	ScheduleCandidates(ctx context.Context, date time.Time) ([]*model.ScheduleVariant, error)

	// Same, for associations.
	AssociationCandidates(ctx context.Context, date time.Time) ([]*model.Association, error)

	// Number of records held.
	Counts(ctx context.Context) (*TimetableCounts, error)
}

type TimetableCounts struct {
	Schedules    map[model.STPIndicator]int
	Locations    int
	Associations int
}

type scheduleKey struct {
	uid      string
	stp      model.STPIndicator
	runsFrom string
}

func keyOf(s *model.ScheduleVariant) scheduleKey {
	return scheduleKey{s.UID, s.STP, s.RunsFrom}
}
