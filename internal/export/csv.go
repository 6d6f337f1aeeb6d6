package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/zombor/sirim-scanner/internal/record"
)

// csvRow is one exported record. The tags must stay in label.Keys order
// with the labels from FieldKey.Header.
type csvRow struct {
	SerialNumber string `csv:"SIRIM Serial No."`
	BatchNumber  string `csv:"Batch No."`
	Brand        string `csv:"Brand/Trademark"`
	Model        string `csv:"Model"`
	Type         string `csv:"Type"`
	Rating       string `csv:"Rating"`
	Size         string `csv:"Size"`
}

func newCSVRow(r *record.Record) csvRow {
	return csvRow{
		SerialNumber: r.SerialNumber,
		BatchNumber:  r.BatchNumber,
		Brand:        r.Brand,
		Model:        r.Model,
		Type:         r.Type,
		Rating:       r.Rating,
		Size:         r.Size,
	}
}

// WriteCSV writes a header row followed by one row per record
func WriteCSV(w io.Writer, records []*record.Record) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if err := enc.EncodeHeader(csvRow{}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if err := enc.Encode(newCSVRow(r)); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
