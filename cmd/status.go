package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows imported timetables and what would be loaded",
	Args:  cobra.NoArgs,
	RunE:  status,
}

func init() {
	statusCmd.Flags().StringVarP(&date, "date", "d", "", "Railway day as YYYY-MM-DD (default today)")
}

func status(cmd *cobra.Command, args []string) error {
	s, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	imports, err := s.ListImports(storage.ListImportsFilter{})
	if err != nil {
		return fmt.Errorf("listing imports: %w", err)
	}
	for _, imp := range imports {
		fmt.Printf("import %s %s %s..%s at %s\n",
			imp.Hash,
			imp.Source,
			imp.StartDate,
			imp.EndDate,
			imp.ImportedAt.Format("2006-01-02 15:04:05"),
		)
	}

	reader, err := s.GetReader()
	if err != nil {
		return fmt.Errorf("getting reader: %w", err)
	}
	counts, err := reader.Counts(cmd.Context())
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	fmt.Printf("schedules %v, locations %d, associations %d\n", counts.Schedules, counts.Locations, counts.Associations)

	store, err := loadStore(cmd, s)
	if err != nil {
		return err
	}
	st := store.Status()
	fmt.Printf("railway day %s: %d trains, %d tomorrow\n",
		railtime.FormatDate(st.RailwayDate),
		st.Today,
		st.Tomorrow,
	)

	return nil
}
