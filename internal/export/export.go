// Package export renders SIRIM records as CSV, XLSX and PDF documents.
// All three formats share the same column order and header labels.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/zombor/sirim-scanner/internal/record"
)

// Format is an export file format
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	PDF  Format = "pdf"
)

// Title heads the PDF export
const Title = "SIRIM Records"

// ParseFormat parses a format name such as "csv"
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, XLSX, PDF:
		return f, nil
	case "excel":
		return XLSX, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, xlsx or pdf)", s)
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	switch f {
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case PDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns the download file name for the format
func (f Format) FileName() string {
	return "sirim_records." + string(f)
}

// Write renders records in the given format
func Write(w io.Writer, format Format, records []*record.Record) error {
	switch format {
	case CSV:
		return WriteCSV(w, records)
	case XLSX:
		return WriteXLSX(w, records)
	case PDF:
		return WritePDF(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
