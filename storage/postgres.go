package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

const PSQLScheduleBatchSize = 5000

type PSQLStorage struct {
	sqlStorage
	driver string
}

// Creates a new Postgres Storage using the provided connection string.
//
// The driver is "postgres" (lib/pq, the default) or "pgx". Locations
// are loaded with COPY under lib/pq and with prepared inserts under
// pgx.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool, driver ...string) (*PSQLStorage, error) {
	driverName := "postgres"
	if len(driver) > 0 && driver[0] != "" {
		driverName = driver[0]
	}
	if driverName != "postgres" && driverName != "pgx" {
		return nil, fmt.Errorf("unsupported driver %q", driverName)
	}

	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS timetable_import;
DROP TABLE IF EXISTS schedule_locations;
DROP TABLE IF EXISTS schedules;
DROP TABLE IF EXISTS associations;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS timetable_import (
    hash TEXT NOT NULL,
    source TEXT NOT NULL,
    imported_at TIMESTAMPTZ NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    schedules INTEGER NOT NULL,
    locations INTEGER NOT NULL,
    associations INTEGER NOT NULL,
    PRIMARY KEY (hash, source)
);

CREATE TABLE IF NOT EXISTS schedules (
    id BIGSERIAL PRIMARY KEY,
    uid TEXT NOT NULL,
    stp_indicator TEXT NOT NULL,
    transaction_type TEXT NOT NULL,
    runs_from TEXT NOT NULL,
    runs_to TEXT NOT NULL,
    days_run TEXT NOT NULL,
    train_identity TEXT NOT NULL,
    train_category TEXT NOT NULL,
    train_status TEXT NOT NULL,
    service_code TEXT NOT NULL,
    power_type TEXT NOT NULL,
    timing_load TEXT NOT NULL,
    speed INTEGER NOT NULL,
    operating_chars TEXT NOT NULL,
    UNIQUE (uid, stp_indicator, runs_from)
);

CREATE INDEX IF NOT EXISTS schedules_validity ON schedules (runs_from, runs_to);

CREATE TABLE IF NOT EXISTS schedule_locations (
    uid TEXT NOT NULL,
    stp_indicator TEXT NOT NULL,
    runs_from TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    tiploc TEXT NOT NULL,
    recurrence INTEGER NOT NULL,
    location_type TEXT NOT NULL,
    arr TEXT NOT NULL,
    dep TEXT NOT NULL,
    pass TEXT NOT NULL,
    public_arr TEXT NOT NULL,
    public_dep TEXT NOT NULL,
    platform TEXT NOT NULL,
    line TEXT NOT NULL,
    path TEXT NOT NULL,
    activity TEXT NOT NULL,
    engineering_allowance TEXT NOT NULL,
    pathing_allowance TEXT NOT NULL,
    performance_allowance TEXT NOT NULL,
    PRIMARY KEY (uid, stp_indicator, runs_from, sequence)
);

CREATE TABLE IF NOT EXISTS associations (
    main_uid TEXT NOT NULL,
    assoc_uid TEXT NOT NULL,
    category TEXT NOT NULL,
    date_indicator TEXT NOT NULL,
    location TEXT NOT NULL,
    base_suffix TEXT NOT NULL,
    assoc_suffix TEXT NOT NULL,
    stp_indicator TEXT NOT NULL,
    date_from TEXT NOT NULL,
    date_to TEXT NOT NULL,
    days_run TEXT NOT NULL,
    PRIMARY KEY (main_uid, assoc_uid, location, stp_indicator, date_from)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	s := &PSQLStorage{
		sqlStorage: sqlStorage{
			db:        db,
			rebind:    rebindDollar,
			batchSize: PSQLScheduleBatchSize,
		},
		driver: driverName,
	}
	if driverName == "postgres" {
		s.insertLocations = copyInLocations
	}

	return s, nil
}

func (s *PSQLStorage) Driver() string {
	return s.driver
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func copyInLocations(tx *sql.Tx, rows []locationRow) error {
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(pq.CopyIn("schedule_locations", locationColumns...))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err = stmt.Exec(row.values()...)
		if err != nil {
			return fmt.Errorf("COPY schedule_location: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	return nil
}
