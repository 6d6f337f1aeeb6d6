package scan

import (
	"context"

	"github.com/zombor/sirim-scanner/internal/record"
)

// TextRecognizer transcribes the text in a frame
type TextRecognizer interface {
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
}

// BarcodeDecoder reads a QR code from a frame
type BarcodeDecoder interface {
	DecodeBarcode(ctx context.Context, imageData []byte, contentType string) (string, bool, error)
}

// Store persists captured labels
type Store interface {
	// FindBySerial returns the record holding serial, or nil when there is none
	FindBySerial(ctx context.Context, serial string) (*record.Record, error)
	// PersistImage stores the frame and returns a path for the record
	PersistImage(ctx context.Context, data []byte, contentType string) (string, error)
	// Insert stores a new record and returns its ID
	Insert(ctx context.Context, rec *record.Record) (string, error)
	// DeleteImage removes an image stored by PersistImage
	DeleteImage(ctx context.Context, path string) error
}
