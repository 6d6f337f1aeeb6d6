package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRDecoder reads the QR code printed on newer SIRIM labels
type QRDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewQRDecoder creates a QR decoder
func NewQRDecoder() *QRDecoder {
	return &QRDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// DecodeBarcode returns the QR payload and whether one was found
func (d *QRDecoder) DecodeBarcode(ctx context.Context, imageData []byte, contentType string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	img, err := decodeImage(imageData, contentType)
	if err != nil {
		return "", false, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("binarizing image: %w", err)
	}

	// A new reader per call; gozxing readers are not safe for concurrent use
	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			// Not found, checksum and format failures all mean no usable code
			return "", false, nil
		}
		return "", false, fmt.Errorf("decoding QR code: %w", err)
	}

	payload := strings.TrimSpace(result.GetText())
	if payload == "" {
		return "", false, nil
	}
	return payload, true, nil
}
