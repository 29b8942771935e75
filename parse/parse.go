package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Loads a zipped timetable extract into the writer.
func ParseTimetable(writer storage.TimetableWriter, buf []byte) (*storage.ImportMetadata, error) {
	file := map[string]io.ReadCloser{
		"schedules.csv":          nil,
		"schedule_locations.csv": nil,
		"associations.csv":       nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// Extracts are sometimes zipped with a top level
		// directory.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		file[fName] = rc
	}

	for _, required := range []string{"schedules.csv", "schedule_locations.csv"} {
		if file[required] == nil {
			return nil, fmt.Errorf("missing %s", required)
		}
	}

	schedules, startDate, endDate, err := ParseSchedules(file["schedules.csv"])
	if err != nil {
		return nil, fmt.Errorf("parsing schedules.csv: %w", err)
	}

	locations, err := ParseScheduleLocations(file["schedule_locations.csv"], schedules)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule_locations.csv: %w", err)
	}

	err = writer.BeginSchedules()
	if err != nil {
		return nil, fmt.Errorf("beginning schedules: %w", err)
	}
	for _, s := range schedules {
		err = writer.WriteSchedule(s)
		if err != nil {
			return nil, fmt.Errorf("writing schedule %s: %w", s.UID, err)
		}
	}
	err = writer.EndSchedules()
	if err != nil {
		return nil, fmt.Errorf("ending schedules: %w", err)
	}

	associations := 0
	if file["associations.csv"] != nil {
		associations, err = ParseAssociations(writer, file["associations.csv"])
		if err != nil {
			return nil, fmt.Errorf("parsing associations.csv: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("closing timetable writer: %w", err)
	}

	// Partial metadata. The caller fills in hash, source and
	// time of import.
	return &storage.ImportMetadata{
		StartDate:    startDate,
		EndDate:      endDate,
		Schedules:    len(schedules),
		Locations:    locations,
		Associations: associations,
	}, nil
}
