package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// A small extract with every file present
func fixtureSimple() map[string][]string {
	return map[string][]string{
		"schedules.csv": {
			"uid,stp_indicator,runs_from,runs_to,days_run,train_identity,train_category,train_status,service_code,power_type,timing_load,speed,operating_chars,transaction_type",
			"W12345,P,20250101,20251231,1111100,2A45,OO,P,24745000,EMU,465,75,D,N",
			"W12345,O,20250609,20250609,1000000,2A45,OO,P,24745000,EMU,465,75,D,N",
			"W99999,P,20241215,20250531,0000011,2H99,OO,P,24745000,EMU,465,,,N",
		},
		"schedule_locations.csv": {
			"uid,stp_indicator,runs_from,sequence,tiploc,location_type,arr,dep,pass,public_arr,public_dep,platform,line,path,activity,engineering_allowance,pathing_allowance,performance_allowance",
			"W12345,P,20250101,1,CHRX,LO,,0738,,,0738,6,FL,,TB,,,",
			"W12345,P,20250101,3,HAYS,LT,0821,,,0821,,2,,UM,TF,,,",
			"W12345,P,20250101,2,WLOE,LI,0742,0744,,0742,0744,B,SL,,T,1,H,2",
			"W12345,O,20250609,1,CHRX,LO,,0748,,,0748,6,,,TB,,,",
			"W12345,O,20250609,2,HAYS,LT,0831,,,0831,,2,,,TF,,,",
			"W99999,P,20241215,1,CHRX,LO,,2330,,,2330,1,,,TB,,,",
			"W99999,P,20241215,2,LEWISHM2,LI,,,2345H,,,,,,,,,",
			"W99999,P,20241215,3,HAYS,LT,2415,,,2415,,,,,TF,,,",
		},
		"associations.csv": {
			"main_uid,assoc_uid,category,date_indicator,location,base_suffix,assoc_suffix,stp_indicator,date_from,date_to,days_run",
			"W12345,W99999,NP,S,HAYS,,,P,20250101,20251231,1111111",
		},
	}
}

func TestParseValidTimetable(t *testing.T) {
	s, err := storage.NewSQLiteStorage()
	require.NoError(t, err)
	writer, err := s.GetWriter()
	require.NoError(t, err)

	metadata, err := ParseTimetable(writer, buildZip(t, fixtureSimple()))
	require.NoError(t, err)
	assert.Equal(t, "20241215", metadata.StartDate)
	assert.Equal(t, "20251231", metadata.EndDate)
	assert.Equal(t, 3, metadata.Schedules)
	assert.Equal(t, 8, metadata.Locations)
	assert.Equal(t, 1, metadata.Associations)

	reader, err := s.GetReader()
	require.NoError(t, err)

	// Monday 2025-06-09: both W12345 variants
	schedules, err := reader.ScheduleCandidates(context.Background(), time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, len(schedules))

	var permanent *model.ScheduleVariant
	for _, sched := range schedules {
		if sched.STP == model.STPPermanent {
			permanent = sched
		}
	}
	require.NotNil(t, permanent)
	assert.Equal(t, "2A45", permanent.Headcode)
	assert.Equal(t, 75, permanent.Speed)
	require.Equal(t, 3, len(permanent.Locations))
	assert.Equal(t, "CHRX", permanent.Locations[0].Tiploc)
	assert.Equal(t, "07:38:00", permanent.Locations[0].Departure)
	assert.Equal(t, model.StopPlan{
		Sequence:             2,
		Tiploc:               "WLOE",
		Kind:                 model.LocationIntermediate,
		Arrival:              "07:42:00",
		Departure:            "07:44:00",
		PublicArrival:        "07:42:00",
		PublicDeparture:      "07:44:00",
		Platform:             "B",
		Line:                 "SL",
		Activity:             "T",
		EngineeringAllowance: "1",
		PathingAllowance:     "H",
		PerformanceAllowance: "2",
	}, permanent.Locations[1])
	assert.Equal(t, "HAYS", permanent.Locations[2].Tiploc)
	assert.Equal(t, "08:21:00", permanent.Locations[2].Arrival)

	// Saturday 2025-03-01: W99999 only
	schedules, err = reader.ScheduleCandidates(context.Background(), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, len(schedules))
	late := schedules[0]
	assert.Equal(t, "W99999", late.UID)
	assert.Equal(t, 0, late.Speed)
	require.Equal(t, 3, len(late.Locations))
	assert.Equal(t, "LEWISHM", late.Locations[1].Tiploc)
	assert.Equal(t, 2, late.Locations[1].Recurrence)
	assert.Equal(t, "23:45:30", late.Locations[1].Pass)
	assert.Equal(t, "00:15:00", late.Locations[2].Arrival)

	assocs, err := reader.AssociationCandidates(context.Background(), time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, len(assocs))
	assert.Equal(t, model.AssociationNext, assocs[0].Category)
}

func TestParseMissingFiles(t *testing.T) {
	for _, missing := range []string{"schedules.csv", "schedule_locations.csv"} {
		files := fixtureSimple()
		delete(files, missing)

		writer, err := storage.NewMemoryStorage().GetWriter()
		require.NoError(t, err)
		_, err = ParseTimetable(writer, buildZip(t, files))
		assert.Error(t, err, missing)
	}

	// Associations are optional
	files := fixtureSimple()
	delete(files, "associations.csv")
	writer, err := storage.NewMemoryStorage().GetWriter()
	require.NoError(t, err)
	metadata, err := ParseTimetable(writer, buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, 0, metadata.Associations)
}

func TestParseFilesInSubdirectory(t *testing.T) {
	files := map[string][]string{}
	for name, content := range fixtureSimple() {
		files["extract/"+name] = content
	}

	writer, err := storage.NewMemoryStorage().GetWriter()
	require.NoError(t, err)
	metadata, err := ParseTimetable(writer, buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, 3, metadata.Schedules)
}

func TestParseNotAZip(t *testing.T) {
	writer, err := storage.NewMemoryStorage().GetWriter()
	require.NoError(t, err)
	_, err = ParseTimetable(writer, []byte("not a zip"))
	assert.Error(t, err)
}

func TestParseSchedules(t *testing.T) {
	header := "uid,stp_indicator,runs_from,runs_to,days_run,train_identity,speed"

	for _, tc := range []struct {
		name    string
		content []string
		err     bool
		uids    []string
		min     string
		max     string
	}{
		{
			"minimal",
			[]string{header, "A1,P,20250101,20250131,1111111,1A00,"},
			false,
			[]string{"A1"},
			"20250101",
			"20250131",
		},
		{
			"bom and sloppy quotes",
			[]string{"\ufeff" + header, `A1,P,20250101,20250131,1111111,1A"00,`},
			false,
			[]string{"A1"},
			"20250101",
			"20250131",
		},
		{
			"multiple",
			[]string{
				header,
				"A1,P,20250101,20250131,1111111,1A00,",
				"A1,C,20250110,20250110,1111111,,",
				"A2,N,20241201,20250105,0000011,1A01,90",
			},
			false,
			[]string{"A1", "A1", "A2"},
			"20241201",
			"20250131",
		},
		{"empty uid", []string{header, ",P,20250101,20250131,1111111,1A00,"}, true, nil, "", ""},
		{"bad stp", []string{header, "A1,X,20250101,20250131,1111111,1A00,"}, true, nil, "", ""},
		{"bad from", []string{header, "A1,P,2025010,20250131,1111111,1A00,"}, true, nil, "", ""},
		{"bad to", []string{header, "A1,P,20250101,20251332,1111111,1A00,"}, true, nil, "", ""},
		{"to before from", []string{header, "A1,P,20250201,20250131,1111111,1A00,"}, true, nil, "", ""},
		{"short mask", []string{header, "A1,P,20250101,20250131,111111,1A00,"}, true, nil, "", ""},
		{"bad mask", []string{header, "A1,P,20250101,20250131,1111112,1A00,"}, true, nil, "", ""},
		{"bad speed", []string{header, "A1,P,20250101,20250131,1111111,1A00,fast"}, true, nil, "", ""},
		{
			"repeated",
			[]string{
				header,
				"A1,P,20250101,20250131,1111111,1A00,",
				"A1,P,20250101,20250228,1111111,1A00,",
			},
			true, nil, "", "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			schedules, min, max, err := ParseSchedules(strings.NewReader(strings.Join(tc.content, "\n")))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			uids := []string{}
			for _, s := range schedules {
				uids = append(uids, s.UID)
			}
			assert.Equal(t, tc.uids, uids)
			assert.Equal(t, tc.min, min)
			assert.Equal(t, tc.max, max)
		})
	}
}

func TestParseScheduleLocations(t *testing.T) {
	header := "uid,stp_indicator,runs_from,sequence,tiploc,location_type,arr,dep,pass"

	newSchedules := func() []*model.ScheduleVariant {
		return []*model.ScheduleVariant{
			{UID: "A1", STP: model.STPPermanent, RunsFrom: "20250101"},
		}
	}

	for _, tc := range []struct {
		name     string
		content  []string
		err      bool
		expected []model.StopPlan
	}{
		{
			"ordered by sequence",
			[]string{
				header,
				"A1,P,20250101,20,HAYS,LT,1030,,",
				"A1,P,20250101,10,CHRX,LO,,1000,",
			},
			false,
			[]model.StopPlan{
				{Sequence: 10, Tiploc: "CHRX", Kind: model.LocationOrigin, Departure: "10:00:00"},
				{Sequence: 20, Tiploc: "HAYS", Kind: model.LocationTerminal, Arrival: "10:30:00"},
			},
		},
		{
			"half minutes, colons and next day hours",
			[]string{
				header,
				"A1,P,20250101,1,CHRX,LO,,2359H,",
				"A1,P,20250101,2,LEWISHM,LI,,,00:05:30",
				"A1,P,20250101,3,HAYS,LT,2520,,",
			},
			false,
			[]model.StopPlan{
				{Sequence: 1, Tiploc: "CHRX", Kind: model.LocationOrigin, Departure: "23:59:30"},
				{Sequence: 2, Tiploc: "LEWISHM", Kind: model.LocationIntermediate, Pass: "00:05:30"},
				{Sequence: 3, Tiploc: "HAYS", Kind: model.LocationTerminal, Arrival: "01:20:00"},
			},
		},
		{
			"recurrence",
			[]string{
				header,
				"A1,P,20250101,1,LEWISHM,LO,,1000,",
				"A1,P,20250101,2,LEWISHM2,LT,1030,,",
			},
			false,
			[]model.StopPlan{
				{Sequence: 1, Tiploc: "LEWISHM", Kind: model.LocationOrigin, Departure: "10:00:00"},
				{Sequence: 2, Tiploc: "LEWISHM", Recurrence: 2, Kind: model.LocationTerminal, Arrival: "10:30:00"},
			},
		},
		{"unknown schedule", []string{header, "A2,P,20250101,1,CHRX,LO,,1000,"}, true, nil},
		{"wrong variant", []string{header, "A1,O,20250101,1,CHRX,LO,,1000,"}, true, nil},
		{"missing tiploc", []string{header, "A1,P,20250101,1,,LO,,1000,"}, true, nil},
		{"bad location type", []string{header, "A1,P,20250101,1,CHRX,LX,,1000,"}, true, nil},
		{"bad hour", []string{header, "A1,P,20250101,1,CHRX,LO,,2800,"}, true, nil},
		{"bad minute", []string{header, "A1,P,20250101,1,CHRX,LO,,1060,"}, true, nil},
		{"garbage time", []string{header, "A1,P,20250101,1,CHRX,LO,,soon,"}, true, nil},
		{
			"duplicate sequence",
			[]string{
				header,
				"A1,P,20250101,1,CHRX,LO,,1000,",
				"A1,P,20250101,1,HAYS,LT,1030,,",
			},
			true, nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			schedules := newSchedules()
			n, err := ParseScheduleLocations(strings.NewReader(strings.Join(tc.content, "\n")), schedules)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.expected), n)
			assert.Equal(t, tc.expected, schedules[0].Locations)
		})
	}
}

func TestParseAssociations(t *testing.T) {
	header := "main_uid,assoc_uid,category,date_indicator,location,stp_indicator,date_from,date_to,days_run"

	for _, tc := range []struct {
		name    string
		content []string
		err     bool
		count   int
	}{
		{"join", []string{header, "A1,A2,JJ,S,ASHFKY,P,20250101,20251231,1111111"}, false, 1},
		{"cancellation without category", []string{header, "A1,A2,,,ASHFKY,C,20250101,20250101,1111111"}, false, 1},
		{"bad category", []string{header, "A1,A2,XX,S,ASHFKY,P,20250101,20251231,1111111"}, true, 0},
		{"missing assoc uid", []string{header, "A1,,JJ,S,ASHFKY,P,20250101,20251231,1111111"}, true, 0},
		{"missing location", []string{header, "A1,A2,JJ,S,,P,20250101,20251231,1111111"}, true, 0},
		{"bad stp", []string{header, "A1,A2,JJ,S,ASHFKY,Q,20250101,20251231,1111111"}, true, 0},
		{"bad date", []string{header, "A1,A2,JJ,S,ASHFKY,P,20250101,2025123,1111111"}, true, 0},
		{"bad mask", []string{header, "A1,A2,JJ,S,ASHFKY,P,20250101,20251231,11"}, true, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			writer, err := storage.NewMemoryStorage().GetWriter()
			require.NoError(t, err)
			n, err := ParseAssociations(writer, strings.NewReader(strings.Join(tc.content, "\n")))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.count, n)
		})
	}
}
