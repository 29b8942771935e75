package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
)

type Config struct {
	StorageBackend string // memory, sqlite or postgres
	SQLiteDir      string
	DatabaseURL    string
	PGDriver       string

	TimetableSources []string
	ImportInterval   time.Duration

	NATSURL             string
	NATSSubjectRealtime string
	NATSSubjectForecast string

	MQTTURL   string
	MQTTTopic string

	RedisURL     string
	RedisChannel string
	SnapshotTTL  time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string

	QueueSize int
	LateDwell activetrains.LateDwell
}

func Load() (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg := &Config{
		StorageBackend:      strings.ToLower(getenvDefault("STORAGE_BACKEND", "sqlite")),
		SQLiteDir:           os.Getenv("SQLITE_DIR"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		PGDriver:            getenvDefault("PG_DRIVER", "postgres"),
		NATSURL:             os.Getenv("NATS_URL"),
		NATSSubjectRealtime: getenvDefault("NATS_SUBJECT_REALTIME", "trains.realtime"),
		NATSSubjectForecast: getenvDefault("NATS_SUBJECT_FORECAST", "trains.forecast"),
		MQTTURL:             os.Getenv("MQTT_URL"),
		MQTTTopic:           getenvDefault("MQTT_TOPIC", "trains/events/+"),
		RedisURL:            os.Getenv("REDIS_URL"),
		RedisChannel:        getenvDefault("REDIS_CHANNEL", "trains:live"),
		MetricsAddr:         getenvDefault("METRICS_ADDR", ":9102"),
		LogLevel:            strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getenvDefault("LOG_FORMAT", "text")),
	}

	// SQLITE_DIR set to the empty string means in-memory
	if _, set := os.LookupEnv("SQLITE_DIR"); !set {
		cfg.SQLiteDir = "."
	}

	switch cfg.StorageBackend {
	case "memory", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q", cfg.StorageBackend)
	}
	switch cfg.PGDriver {
	case "postgres", "pgx":
	default:
		return nil, fmt.Errorf("invalid PG_DRIVER: %q", cfg.PGDriver)
	}
	if cfg.StorageBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set for the postgres backend")
	}

	cfg.TimetableSources = splitList(os.Getenv("TIMETABLE_SOURCES"))

	minutes, err := getenvInt("IMPORT_INTERVAL_MIN", 30, 1)
	if err != nil {
		return nil, err
	}
	cfg.ImportInterval = time.Duration(minutes) * time.Minute

	ttl, err := getenvInt("SNAPSHOT_TTL_SEC", 7200, 0)
	if err != nil {
		return nil, err
	}
	cfg.SnapshotTTL = time.Duration(ttl) * time.Second

	cfg.QueueSize, err = getenvInt("QUEUE_SIZE", activetrains.DefaultQueueSize, 1)
	if err != nil {
		return nil, err
	}

	cfg.LateDwell = activetrains.DefaultLateDwell()
	cfg.LateDwell.Default, err = getenvInt("LATE_DWELL_DEFAULT_SEC", cfg.LateDwell.Default, 0)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("LATE_DWELL"); v != "" {
		byTiploc, err := ParseLateDwell(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LATE_DWELL: %w", err)
		}
		cfg.LateDwell.ByTiploc = byTiploc
	}

	return cfg, nil
}

// Parses "LESTER=45,HTHRGRN=30" into seconds per TIPLOC.
func ParseLateDwell(s string) (map[string]int, error) {
	dwell := map[string]int{}
	for _, entry := range splitList(s) {
		tiploc, secs, found := strings.Cut(entry, "=")
		tiploc = strings.ToUpper(strings.TrimSpace(tiploc))
		if !found || tiploc == "" {
			return nil, fmt.Errorf("%q is not on form <tiploc>=<seconds>", entry)
		}
		n, err := strconv.Atoi(strings.TrimSpace(secs))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid seconds for %s: %q", tiploc, secs)
		}
		dwell[tiploc] = n
	}
	return dwell, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def, min int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
