package scan

import (
	"strings"

	"github.com/zombor/sirim-scanner/internal/label"
)

// RawRecognition is what the recognizers read from one frame
type RawRecognition struct {
	Text       string
	Barcode    string
	HasBarcode bool
	FrameIndex int
}

// Recognition is the classified outcome of one frame. It is one of
// Empty, Unreadable or Extracted.
type Recognition interface {
	recognition()
}

// Empty means the frame had neither text nor a barcode
type Empty struct{}

// Unreadable means something was read but no label field could be found in it
type Unreadable struct {
	Raw RawRecognition
}

// Extracted carries the label fields found in the frame
type Extracted struct {
	Raw    RawRecognition
	Fields map[label.FieldKey]string
}

func (Empty) recognition()      {}
func (Unreadable) recognition() {}
func (Extracted) recognition()  {}

// classify turns raw recognizer output into a Recognition
func classify(ex *label.Extractor, raw RawRecognition) Recognition {
	text := strings.TrimSpace(raw.Text)
	barcode := ""
	if raw.HasBarcode {
		barcode = strings.TrimSpace(raw.Barcode)
	}
	if text == "" && barcode == "" {
		return Empty{}
	}

	fields := ex.ExtractWithBarcode(text, barcode)
	if len(fields) == 0 {
		return Unreadable{Raw: raw}
	}
	return Extracted{Raw: raw, Fields: fields}
}
