package model

import (
	"strconv"
)

// Holds the planned timetable types shared by storage, parsing and
// the engine.

// Schedule Temporary Period indicator. Marks a timetable record as
// permanent, or as a short term new/overlay/cancellation variant of
// it.
type STPIndicator string

const (
	STPCancellation STPIndicator = "C"
	STPOverlay      STPIndicator = "O"
	STPNew          STPIndicator = "N"
	STPPermanent    STPIndicator = "P"
)

// Precedence of the indicator. Lower number wins.
func (s STPIndicator) Priority() int {
	switch s {
	case STPCancellation:
		return 1
	case STPOverlay:
		return 2
	case STPNew:
		return 3
	case STPPermanent:
		return 4
	}
	return 5
}

func (s STPIndicator) Valid() bool {
	return s.Priority() < 5
}

type LocationKind string

const (
	LocationOrigin       LocationKind = "LO"
	LocationIntermediate LocationKind = "LI"
	LocationTerminal     LocationKind = "LT"
)

func (k LocationKind) Valid() bool {
	return k == LocationOrigin || k == LocationIntermediate || k == LocationTerminal
}

type AssociationCategory string

const (
	AssociationJoin       AssociationCategory = "JJ"
	AssociationDivide     AssociationCategory = "VV"
	AssociationNext       AssociationCategory = "NP"
	AssociationPrevious   AssociationCategory = "PR"
	AssociationDoubleDock AssociationCategory = "DD"
)

// The category as seen from the other train. Next and previous swap,
// the rest are their own reverse.
func (c AssociationCategory) Reverse() AssociationCategory {
	switch c {
	case AssociationNext:
		return AssociationPrevious
	case AssociationPrevious:
		return AssociationNext
	}
	return c
}

func (c AssociationCategory) Valid() bool {
	switch c {
	case AssociationJoin, AssociationDivide, AssociationNext, AssociationPrevious, AssociationDoubleDock:
		return true
	}
	return false
}

// One version of a train's planned schedule. Dates are YYYYMMDD and
// DaysRun is a Monday-first mask of '0' and '1'.
type ScheduleVariant struct {
	ID              int64
	UID             string
	STP             STPIndicator
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
	Locations       []StopPlan
}

// A planned call or pass. Times are HH:MM:SS, or empty when not
// scheduled.
type StopPlan struct {
	Sequence             int
	Tiploc               string
	Recurrence           int
	Kind                 LocationKind
	Arrival              string
	Departure            string
	Pass                 string
	PublicArrival        string
	PublicDeparture      string
	Platform             string
	Line                 string
	Path                 string
	Activity             string
	EngineeringAllowance string
	PathingAllowance     string
	PerformanceAllowance string
}

type Association struct {
	MainUID       string
	AssocUID      string
	Category      AssociationCategory
	DateIndicator string
	Location      string
	BaseSuffix    string
	AssocSuffix   string
	STP           STPIndicator
	DateFrom      string
	DateTo        string
	DaysRun       string
}

// Timetables mark a repeat visit to the same location by appending a
// digit to the 7 character TIPLOC. Returns the bare TIPLOC and the
// recurrence (0 if none).
func SplitRecurrence(tiploc string) (string, int) {
	if len(tiploc) == 8 {
		last := tiploc[7]
		if last >= '0' && last <= '9' {
			n, _ := strconv.Atoi(string(last))
			return tiploc[:7], n
		}
	}
	return tiploc, 0
}
