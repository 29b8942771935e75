package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

// Shared by the SQLite and Postgres backends. The SQL is written with
// '?' placeholders and rebound per backend.

type sqlStorage struct {
	db     *sql.DB
	rebind func(string) string

	batchSize       int
	insertLocations func(tx *sql.Tx, rows []locationRow) error
}

type locationRow struct {
	uid      string
	stp      model.STPIndicator
	runsFrom string
	loc      model.StopPlan
}

var locationColumns = []string{
	"uid",
	"stp_indicator",
	"runs_from",
	"sequence",
	"tiploc",
	"recurrence",
	"location_type",
	"arr",
	"dep",
	"pass",
	"public_arr",
	"public_dep",
	"platform",
	"line",
	"path",
	"activity",
	"engineering_allowance",
	"pathing_allowance",
	"performance_allowance",
}

func (r locationRow) values() []interface{} {
	return []interface{}{
		r.uid,
		string(r.stp),
		r.runsFrom,
		r.loc.Sequence,
		r.loc.Tiploc,
		r.loc.Recurrence,
		string(r.loc.Kind),
		r.loc.Arrival,
		r.loc.Departure,
		r.loc.Pass,
		r.loc.PublicArrival,
		r.loc.PublicDeparture,
		r.loc.Platform,
		r.loc.Line,
		r.loc.Path,
		r.loc.Activity,
		r.loc.EngineeringAllowance,
		r.loc.PathingAllowance,
		r.loc.PerformanceAllowance,
	}
}

func rebindQuestion(q string) string { return q }

func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStorage) ListImports(filter ListImportsFilter) ([]*ImportMetadata, error) {
	query := `
SELECT
    hash,
    source,
    imported_at,
    start_date,
    end_date,
    schedules,
    locations,
    associations
FROM timetable_import`

	conditions := []string{}
	params := []interface{}{}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		params = append(params, filter.Source)
	}
	if filter.Hash != "" {
		conditions = append(conditions, "hash = ?")
		params = append(params, filter.Hash)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY imported_at DESC"

	rows, err := s.db.Query(s.rebind(query), params...)
	if err != nil {
		return nil, fmt.Errorf("listing imports: %w", err)
	}
	defer rows.Close()

	imports := []*ImportMetadata{}
	for rows.Next() {
		var m ImportMetadata
		err := rows.Scan(
			&m.Hash,
			&m.Source,
			&m.ImportedAt,
			&m.StartDate,
			&m.EndDate,
			&m.Schedules,
			&m.Locations,
			&m.Associations,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning import: %w", err)
		}
		m.ImportedAt = m.ImportedAt.UTC()
		imports = append(imports, &m)
	}

	return imports, rows.Err()
}

func (s *sqlStorage) WriteImportMetadata(m *ImportMetadata) error {
	_, err := s.db.Exec(s.rebind(`
INSERT INTO timetable_import (
    hash,
    source,
    imported_at,
    start_date,
    end_date,
    schedules,
    locations,
    associations
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash, source) DO UPDATE SET
    imported_at = excluded.imported_at,
    start_date = excluded.start_date,
    end_date = excluded.end_date,
    schedules = excluded.schedules,
    locations = excluded.locations,
    associations = excluded.associations
`),
		m.Hash,
		m.Source,
		m.ImportedAt.UTC(),
		m.StartDate,
		m.EndDate,
		m.Schedules,
		m.Locations,
		m.Associations,
	)
	if err != nil {
		return fmt.Errorf("writing import metadata: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetWriter() (TimetableWriter, error) {
	return &sqlWriter{s: s}, nil
}

func (s *sqlStorage) GetReader() (TimetableReader, error) {
	return s, nil
}

const scheduleColumns = `
    id,
    uid,
    stp_indicator,
    transaction_type,
    runs_from,
    runs_to,
    days_run,
    train_identity,
    train_category,
    train_status,
    service_code,
    power_type,
    timing_load,
    speed,
    operating_chars`

func (s *sqlStorage) ScheduleCandidates(ctx context.Context, date time.Time) ([]*model.ScheduleVariant, error) {
	d := railtime.FormatDate(date)
	weekday := railtime.WeekdayIndex(date) + 1

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT`+scheduleColumns+`
FROM schedules
WHERE runs_from <= ? AND runs_to >= ? AND substr(days_run, ?, 1) = '1'
ORDER BY uid, id`), d, d, weekday)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*model.ScheduleVariant{}
	byKey := map[scheduleKey]*model.ScheduleVariant{}
	for rows.Next() {
		var sched model.ScheduleVariant
		var stp string
		err := rows.Scan(
			&sched.ID,
			&sched.UID,
			&stp,
			&sched.TransactionType,
			&sched.RunsFrom,
			&sched.RunsTo,
			&sched.DaysRun,
			&sched.Headcode,
			&sched.Category,
			&sched.Status,
			&sched.ServiceCode,
			&sched.PowerType,
			&sched.TimingLoad,
			&sched.Speed,
			&sched.OperatingChars,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		sched.STP = model.STPIndicator(stp)
		schedules = append(schedules, &sched)
		byKey[keyOf(&sched)] = &sched
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}

	locRows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT
    l.uid,
    l.stp_indicator,
    l.runs_from,
    l.sequence,
    l.tiploc,
    l.recurrence,
    l.location_type,
    l.arr,
    l.dep,
    l.pass,
    l.public_arr,
    l.public_dep,
    l.platform,
    l.line,
    l.path,
    l.activity,
    l.engineering_allowance,
    l.pathing_allowance,
    l.performance_allowance
FROM schedule_locations l
INNER JOIN schedules s
    ON s.uid = l.uid AND s.stp_indicator = l.stp_indicator AND s.runs_from = l.runs_from
WHERE s.runs_from <= ? AND s.runs_to >= ? AND substr(s.days_run, ?, 1) = '1'
ORDER BY l.uid, l.stp_indicator, l.runs_from, l.sequence`), d, d, weekday)
	if err != nil {
		return nil, fmt.Errorf("querying schedule locations: %w", err)
	}
	defer locRows.Close()

	for locRows.Next() {
		var key scheduleKey
		var stp, kind string
		var loc model.StopPlan
		err := locRows.Scan(
			&key.uid,
			&stp,
			&key.runsFrom,
			&loc.Sequence,
			&loc.Tiploc,
			&loc.Recurrence,
			&kind,
			&loc.Arrival,
			&loc.Departure,
			&loc.Pass,
			&loc.PublicArrival,
			&loc.PublicDeparture,
			&loc.Platform,
			&loc.Line,
			&loc.Path,
			&loc.Activity,
			&loc.EngineeringAllowance,
			&loc.PathingAllowance,
			&loc.PerformanceAllowance,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule location: %w", err)
		}
		key.stp = model.STPIndicator(stp)
		loc.Kind = model.LocationKind(kind)

		sched, found := byKey[key]
		if !found {
			continue
		}
		sched.Locations = append(sched.Locations, loc)
	}
	if err := locRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule locations: %w", err)
	}

	return schedules, nil
}

func (s *sqlStorage) AssociationCandidates(ctx context.Context, date time.Time) ([]*model.Association, error) {
	d := railtime.FormatDate(date)
	weekday := railtime.WeekdayIndex(date) + 1

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT
    main_uid,
    assoc_uid,
    category,
    date_indicator,
    location,
    base_suffix,
    assoc_suffix,
    stp_indicator,
    date_from,
    date_to,
    days_run
FROM associations
WHERE date_from <= ? AND date_to >= ? AND substr(days_run, ?, 1) = '1'
ORDER BY main_uid, assoc_uid, location, stp_indicator`), d, d, weekday)
	if err != nil {
		return nil, fmt.Errorf("querying associations: %w", err)
	}
	defer rows.Close()

	assocs := []*model.Association{}
	for rows.Next() {
		var a model.Association
		var category, stp string
		err := rows.Scan(
			&a.MainUID,
			&a.AssocUID,
			&category,
			&a.DateIndicator,
			&a.Location,
			&a.BaseSuffix,
			&a.AssocSuffix,
			&stp,
			&a.DateFrom,
			&a.DateTo,
			&a.DaysRun,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning association: %w", err)
		}
		a.Category = model.AssociationCategory(category)
		a.STP = model.STPIndicator(stp)
		assocs = append(assocs, &a)
	}

	return assocs, rows.Err()
}

func (s *sqlStorage) Counts(ctx context.Context) (*TimetableCounts, error) {
	counts := &TimetableCounts{Schedules: map[model.STPIndicator]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT stp_indicator, COUNT(*) FROM schedules GROUP BY stp_indicator`)
	if err != nil {
		return nil, fmt.Errorf("counting schedules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stp string
		var n int
		if err := rows.Scan(&stp, &n); err != nil {
			return nil, fmt.Errorf("scanning schedule count: %w", err)
		}
		counts.Schedules[model.STPIndicator(stp)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_locations`).Scan(&counts.Locations)
	if err != nil {
		return nil, fmt.Errorf("counting locations: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM associations`).Scan(&counts.Associations)
	if err != nil {
		return nil, fmt.Errorf("counting associations: %w", err)
	}

	return counts, nil
}

// Buffers schedules between BeginSchedules() and EndSchedules(),
// flushing them in batches within a single transaction.
type sqlWriter struct {
	s   *sqlStorage
	tx  *sql.Tx
	buf []*model.ScheduleVariant
}

func (w *sqlWriter) BeginSchedules() error {
	if w.tx != nil {
		return fmt.Errorf("schedules already begun")
	}
	tx, err := w.s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	w.tx = tx
	return nil
}

func (w *sqlWriter) WriteSchedule(schedule *model.ScheduleVariant) error {
	if w.tx == nil {
		// Not batching. Write this one in its own transaction.
		if err := w.BeginSchedules(); err != nil {
			return err
		}
		w.buf = append(w.buf, schedule)
		return w.EndSchedules()
	}

	w.buf = append(w.buf, schedule)
	if len(w.buf) >= w.s.batchSize {
		return w.flush()
	}
	return nil
}

func (w *sqlWriter) EndSchedules() error {
	if w.tx == nil {
		return fmt.Errorf("schedules not begun")
	}
	if err := w.flush(); err != nil {
		return err
	}
	err := w.tx.Commit()
	w.tx = nil
	if err != nil {
		return fmt.Errorf("committing schedules: %w", err)
	}
	return nil
}

func (w *sqlWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	deleteLocs, err := w.tx.Prepare(w.s.rebind(`
DELETE FROM schedule_locations WHERE uid = ? AND stp_indicator = ? AND runs_from = ?`))
	if err != nil {
		return w.abort(fmt.Errorf("preparing location delete: %w", err))
	}
	defer deleteLocs.Close()

	deleteSched, err := w.tx.Prepare(w.s.rebind(`
DELETE FROM schedules WHERE uid = ? AND stp_indicator = ? AND runs_from = ?`))
	if err != nil {
		return w.abort(fmt.Errorf("preparing schedule delete: %w", err))
	}
	defer deleteSched.Close()

	insertSched, err := w.tx.Prepare(w.s.rebind(`
INSERT INTO schedules (
    uid,
    stp_indicator,
    transaction_type,
    runs_from,
    runs_to,
    days_run,
    train_identity,
    train_category,
    train_status,
    service_code,
    power_type,
    timing_load,
    speed,
    operating_chars
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return w.abort(fmt.Errorf("preparing schedule insert: %w", err))
	}
	defer insertSched.Close()

	rows := []locationRow{}
	for _, sched := range w.buf {
		key := []interface{}{sched.UID, string(sched.STP), sched.RunsFrom}
		if _, err := deleteLocs.Exec(key...); err != nil {
			return w.abort(fmt.Errorf("deleting locations of %s: %w", sched.UID, err))
		}
		if _, err := deleteSched.Exec(key...); err != nil {
			return w.abort(fmt.Errorf("deleting schedule %s: %w", sched.UID, err))
		}
		_, err := insertSched.Exec(
			sched.UID,
			string(sched.STP),
			sched.TransactionType,
			sched.RunsFrom,
			sched.RunsTo,
			sched.DaysRun,
			sched.Headcode,
			sched.Category,
			sched.Status,
			sched.ServiceCode,
			sched.PowerType,
			sched.TimingLoad,
			sched.Speed,
			sched.OperatingChars,
		)
		if err != nil {
			return w.abort(fmt.Errorf("inserting schedule %s: %w", sched.UID, err))
		}
		for _, loc := range sched.Locations {
			rows = append(rows, locationRow{sched.UID, sched.STP, sched.RunsFrom, loc})
		}
	}

	insert := w.s.insertLocations
	if insert == nil {
		insert = w.s.preparedInsertLocations
	}
	if err := insert(w.tx, rows); err != nil {
		return w.abort(err)
	}

	w.buf = w.buf[:0]
	return nil
}

func (w *sqlWriter) abort(err error) error {
	w.tx.Rollback()
	w.tx = nil
	w.buf = nil
	return err
}

func (s *sqlStorage) preparedInsertLocations(tx *sql.Tx, rows []locationRow) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(locationColumns)), ", ")
	stmt, err := tx.Prepare(s.rebind(fmt.Sprintf(
		"INSERT INTO schedule_locations (%s) VALUES (%s)",
		strings.Join(locationColumns, ", "),
		placeholders,
	)))
	if err != nil {
		return fmt.Errorf("preparing location insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row.values()...); err != nil {
			return fmt.Errorf("inserting location %s/%d: %w", row.uid, row.loc.Sequence, err)
		}
	}
	return nil
}

func (w *sqlWriter) WriteAssociation(a *model.Association) error {
	exec := w.s.db.Exec
	if w.tx != nil {
		exec = w.tx.Exec
	}
	_, err := exec(w.s.rebind(`
INSERT INTO associations (
    main_uid,
    assoc_uid,
    category,
    date_indicator,
    location,
    base_suffix,
    assoc_suffix,
    stp_indicator,
    date_from,
    date_to,
    days_run
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (main_uid, assoc_uid, location, stp_indicator, date_from) DO UPDATE SET
    category = excluded.category,
    date_indicator = excluded.date_indicator,
    base_suffix = excluded.base_suffix,
    assoc_suffix = excluded.assoc_suffix,
    date_to = excluded.date_to,
    days_run = excluded.days_run
`),
		a.MainUID,
		a.AssocUID,
		string(a.Category),
		a.DateIndicator,
		a.Location,
		a.BaseSuffix,
		a.AssocSuffix,
		string(a.STP),
		a.DateFrom,
		a.DateTo,
		a.DaysRun,
	)
	if err != nil {
		return fmt.Errorf("inserting association: %w", err)
	}
	return nil
}

func (w *sqlWriter) Close() error {
	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}
	return nil
}
