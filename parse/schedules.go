package parse

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

type ScheduleCSV struct {
	UID             string `csv:"uid"`
	STPIndicator    string `csv:"stp_indicator"`
	RunsFrom        string `csv:"runs_from"`
	RunsTo          string `csv:"runs_to"`
	DaysRun         string `csv:"days_run"`
	TrainIdentity   string `csv:"train_identity"`
	TrainCategory   string `csv:"train_category"`
	TrainStatus     string `csv:"train_status"`
	ServiceCode     string `csv:"service_code"`
	PowerType       string `csv:"power_type"`
	TimingLoad      string `csv:"timing_load"`
	Speed           string `csv:"speed"`
	OperatingChars  string `csv:"operating_chars"`
	TransactionType string `csv:"transaction_type"`
}

// Identifies a schedule variant within an extract.
type ScheduleKey struct {
	UID      string
	STP      model.STPIndicator
	RunsFrom string
}

func KeyOf(s *model.ScheduleVariant) ScheduleKey {
	return ScheduleKey{s.UID, s.STP, s.RunsFrom}
}

func validDaysRun(mask string) bool {
	if len(mask) != 7 {
		return false
	}
	for _, c := range mask {
		if c != '0' && c != '1' {
			return false
		}
	}
	return true
}

// Parses schedules.csv. Schedules are returned in file order, without
// locations, along with the min and max validity dates seen.
func ParseSchedules(data io.Reader) ([]*model.ScheduleVariant, string, string, error) {
	schedules := []*model.ScheduleVariant{}
	seen := map[ScheduleKey]bool{}

	var minDate, maxDate string

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(s *ScheduleCSV) error {
		i += 1

		if s.UID == "" {
			return fmt.Errorf("empty uid (row %d)", i+1)
		}

		stp := model.STPIndicator(s.STPIndicator)
		if !stp.Valid() {
			return fmt.Errorf("invalid stp_indicator '%s' (row %d)", s.STPIndicator, i+1)
		}

		if _, err := railtime.ParseDate(s.RunsFrom); err != nil {
			return errors.Wrapf(err, "parsing runs_from (row %d)", i+1)
		}
		if _, err := railtime.ParseDate(s.RunsTo); err != nil {
			return errors.Wrapf(err, "parsing runs_to (row %d)", i+1)
		}
		if s.RunsTo < s.RunsFrom {
			return fmt.Errorf("runs_to before runs_from (row %d)", i+1)
		}

		if !validDaysRun(s.DaysRun) {
			return fmt.Errorf("invalid days_run '%s' (row %d)", s.DaysRun, i+1)
		}

		speed := 0
		if s.Speed != "" {
			n, err := strconv.Atoi(s.Speed)
			if err != nil {
				return errors.Wrapf(err, "parsing speed (row %d)", i+1)
			}
			speed = n
		}

		sched := &model.ScheduleVariant{
			UID:             s.UID,
			STP:             stp,
			TransactionType: s.TransactionType,
			RunsFrom:        s.RunsFrom,
			RunsTo:          s.RunsTo,
			DaysRun:         s.DaysRun,
			Headcode:        s.TrainIdentity,
			Category:        s.TrainCategory,
			Status:          s.TrainStatus,
			ServiceCode:     s.ServiceCode,
			PowerType:       s.PowerType,
			TimingLoad:      s.TimingLoad,
			Speed:           speed,
			OperatingChars:  s.OperatingChars,
		}

		key := KeyOf(sched)
		if seen[key] {
			return fmt.Errorf("repeated schedule %s/%s/%s (row %d)", key.UID, key.STP, key.RunsFrom, i+1)
		}
		seen[key] = true

		if minDate == "" || s.RunsFrom < minDate {
			minDate = s.RunsFrom
		}
		if maxDate == "" || s.RunsTo > maxDate {
			maxDate = s.RunsTo
		}

		schedules = append(schedules, sched)
		return nil
	})
	if err != nil {
		return nil, "", "", errors.Wrap(err, "unmarshaling schedules csv")
	}

	return schedules, minDate, maxDate, nil
}
