package storage

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

const SQLiteScheduleBatchSize = 1000

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig
	sqlStorage
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory: %w", err)
		}
		sourceName = directory + "/timetable.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if !onDisk {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS timetable_import (
    hash TEXT NOT NULL,
    source TEXT NOT NULL,
    imported_at TIMESTAMP NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    schedules INTEGER NOT NULL,
    locations INTEGER NOT NULL,
    associations INTEGER NOT NULL,
PRIMARY KEY (hash, source)
);

CREATE TABLE IF NOT EXISTS schedules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
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

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		sqlStorage: sqlStorage{
			db:        db,
			rebind:    rebindQuestion,
			batchSize: SQLiteScheduleBatchSize,
		},
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
