package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/zombor/sirim-scanner/internal/label"
	"github.com/zombor/sirim-scanner/internal/record"
)

// Column widths in mm, summing to the printable width of landscape A4
var pdfColumnWidths = []float64{40, 34, 50, 44, 39, 36, 34}

const (
	pdfHeaderHeight = 8
	pdfRowHeight    = 7
)

// WritePDF writes a landscape A4 table of records
func WritePDF(w io.Writer, records []*record.Record) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(Title, true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)

	// Core fonts are cp1252; translate so brand names with accents survive
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(217, 225, 242)
		for i, h := range label.Headers() {
			pdf.CellFormat(pdfColumnWidths[i], pdfHeaderHeight, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() > 1 {
			header()
		}
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr(Title), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	header()

	for _, r := range records {
		for i, v := range r.Values() {
			pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight, fit(pdf, tr(v), pdfColumnWidths[i]-2), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}

// fit shortens s with an ellipsis until it fits in width. s is already
// cp1252, one byte per character.
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}
