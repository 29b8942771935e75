package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
)

type AssociationCSV struct {
	MainUID       string `csv:"main_uid"`
	AssocUID      string `csv:"assoc_uid"`
	Category      string `csv:"category"`
	DateIndicator string `csv:"date_indicator"`
	Location      string `csv:"location"`
	BaseSuffix    string `csv:"base_suffix"`
	AssocSuffix   string `csv:"assoc_suffix"`
	STPIndicator  string `csv:"stp_indicator"`
	DateFrom      string `csv:"date_from"`
	DateTo        string `csv:"date_to"`
	DaysRun       string `csv:"days_run"`
}

// Parses associations.csv into the writer. Returns number of
// associations written.
func ParseAssociations(writer storage.TimetableWriter, data io.Reader) (int, error) {
	count := 0

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(a *AssociationCSV) error {
		i += 1

		if a.MainUID == "" || a.AssocUID == "" {
			return fmt.Errorf("missing uid (row %d)", i+1)
		}
		if a.Location == "" {
			return fmt.Errorf("missing location (row %d)", i+1)
		}

		stp := model.STPIndicator(a.STPIndicator)
		if !stp.Valid() {
			return fmt.Errorf("invalid stp_indicator '%s' (row %d)", a.STPIndicator, i+1)
		}

		// Cancellations commonly leave the category blank
		category := model.AssociationCategory(a.Category)
		if a.Category != "" && !category.Valid() {
			return fmt.Errorf("invalid category '%s' (row %d)", a.Category, i+1)
		}

		if _, err := railtime.ParseDate(a.DateFrom); err != nil {
			return errors.Wrapf(err, "parsing date_from (row %d)", i+1)
		}
		if _, err := railtime.ParseDate(a.DateTo); err != nil {
			return errors.Wrapf(err, "parsing date_to (row %d)", i+1)
		}
		if !validDaysRun(a.DaysRun) {
			return fmt.Errorf("invalid days_run '%s' (row %d)", a.DaysRun, i+1)
		}

		err := writer.WriteAssociation(&model.Association{
			MainUID:       a.MainUID,
			AssocUID:      a.AssocUID,
			Category:      category,
			DateIndicator: a.DateIndicator,
			Location:      a.Location,
			BaseSuffix:    a.BaseSuffix,
			AssocSuffix:   a.AssocSuffix,
			STP:           stp,
			DateFrom:      a.DateFrom,
			DateTo:        a.DateTo,
			DaysRun:       a.DaysRun,
		})
		if err != nil {
			return errors.Wrapf(err, "writing association (row %d)", i+1)
		}
		count++

		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "unmarshaling associations csv")
	}

	return count, nil
}
