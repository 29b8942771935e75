package main

import (
	"fmt"

	"github.com/spf13/cobra"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
)

var importCmd = &cobra.Command{
	Use:   "import [source...]",
	Short: "Imports timetable extracts into storage",
	Long:  "Imports timetable extracts, given as URLs or paths, into storage. Defaults to the configured sources.",
	RunE:  importTimetables,
}

func importTimetables(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = cfg.TimetableSources
	}
	if len(args) == 0 {
		return fmt.Errorf("no timetable sources given")
	}

	s, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	manager, err := activetrains.NewManager(s, activetrains.StoreOptions{Logger: logger})
	if err != nil {
		return err
	}

	failed := 0
	for _, source := range args {
		metadata, fresh, err := manager.Import(cmd.Context(), source)
		if err != nil {
			logger.Error("import failed", "source", source, "error", err)
			failed++
			continue
		}
		state := "unchanged"
		if fresh {
			state = "imported"
		}
		fmt.Printf(
			"%s %s %s..%s schedules=%d locations=%d associations=%d (%s)\n",
			metadata.Hash[:12],
			source,
			metadata.StartDate,
			metadata.EndDate,
			metadata.Schedules,
			metadata.Locations,
			metadata.Associations,
			state,
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(args))
	}
	return nil
}
