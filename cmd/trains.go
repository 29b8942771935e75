package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

var trainsCmd = &cobra.Command{
	Use:   "trains",
	Short: "Lists the trains running on a railway day",
	Args:  cobra.NoArgs,
	RunE:  trains,
}

var (
	date     string
	tiploc   string
	headcode string
)

func init() {
	trainsCmd.Flags().StringVarP(&date, "date", "d", "", "Railway day as YYYY-MM-DD (default today)")
	trainsCmd.Flags().StringVarP(&tiploc, "at", "a", "", "Only trains calling at or passing this TIPLOC")
	trainsCmd.Flags().StringVarP(&headcode, "headcode", "H", "", "Only trains with this headcode")
}

// Loads the store from storage for the given railway day, without
// importing anything.
func loadStore(cmd *cobra.Command, s storage.Storage) (*activetrains.Store, error) {
	day := railtime.RailwayDate(time.Now())
	if date != "" {
		var err error
		day, err = railtime.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("invalid date: %w", err)
		}
	}

	lateDwell := cfg.LateDwell
	manager, err := activetrains.NewManager(s, activetrains.StoreOptions{
		Logger:    logger,
		LateDwell: &lateDwell,
	})
	if err != nil {
		return nil, err
	}

	store := manager.Store()
	if err := store.Refresh(cmd.Context(), day); err != nil {
		return nil, err
	}
	return store, nil
}

func trains(cmd *cobra.Command, args []string) error {
	s, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	store, err := loadStore(cmd, s)
	if err != nil {
		return err
	}

	var list []*activetrains.Train
	if tiploc != "" {
		list = store.TrainsAt(tiploc)
	} else {
		list = store.Trains()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, t := range list {
		if headcode != "" && t.Headcode != headcode {
			continue
		}
		stops := t.Schedule.Stops
		if len(stops) == 0 {
			continue
		}
		origin, dest := stops[0], stops[len(stops)-1]

		at := ""
		if tiploc != "" {
			if i := t.FirstStopAt(tiploc); i >= 0 {
				at = stopTime(stops[i])
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s %s\t%s\n",
			t.UID,
			t.Headcode,
			t.Schedule.STP,
			origin.Tiploc, origin.Departure,
			dest.Tiploc, dest.Arrival,
			at,
		)
	}
	return w.Flush()
}

func stopTime(s *activetrains.Stop) string {
	for _, c := range []railtime.NullClock{s.Departure, s.Pass, s.Arrival} {
		if c.Valid {
			return c.String()
		}
	}
	return ""
}
