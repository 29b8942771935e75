package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaygeraghty/CentralTMServer-sub000/config"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

var rootCmd = &cobra.Command{
	Use:               "activetrains",
	Short:             "Live state of the day's trains",
	Long:              "Loads the day's timetable and tracks trains against realtime movement and forecast feeds",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	cfg    *config.Config
	logger *slog.Logger

	storageBackend string
	sqliteDir      string
	databaseURL    string
	sources        []string
	logLevel       string
	logFormat      string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&storageBackend, "storage", "s", "", "Storage backend: memory, sqlite or postgres")
	rootCmd.PersistentFlags().StringVarP(&sqliteDir, "sqlite-dir", "", "", "Directory for the SQLite database")
	rootCmd.PersistentFlags().StringVarP(&databaseURL, "database-url", "", "", "Postgres connection string")
	rootCmd.PersistentFlags().StringSliceVarP(&sources, "source", "", []string{}, "Timetable extract URL or path (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "", "", "Log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(trainsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Loads config, applies flag overrides and sets up logging.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("storage") {
		cfg.StorageBackend = strings.ToLower(storageBackend)
	}
	if flags.Changed("sqlite-dir") {
		cfg.SQLiteDir = sqliteDir
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = databaseURL
	}
	if flags.Changed("source") {
		cfg.TimetableSources = sources
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = strings.ToLower(logLevel)
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(logFormat)
	}

	logger, err = newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level '%s'", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		if cfg.SQLiteDir == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.SQLiteDir})
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend needs a database URL")
		}
		return storage.NewPSQLStorage(cfg.DatabaseURL, false, cfg.PGDriver)
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.StorageBackend)
}
