package scanning

import (
	"context"
)

// labelTranscriptionPrompt is the shared prompt used by all LLM providers for reading labels
const labelTranscriptionPrompt = `You are reading a photo of a SIRIM certification label attached to an electrical product.

Transcribe all printed text on the label exactly as it appears, one line per printed line.

Important:
- Keep field captions such as "Serial No.", "Batch No.", "Brand", "Model", "Type", "Rating" and "Size" together with their values
- Do not correct, translate or reformat values
- Do not add commentary, explanations or markdown
- If the image contains no readable text, reply with exactly NO_TEXT`

// noTextMarker is what the model replies when it finds nothing to read
const noTextMarker = "NO_TEXT"

// Recognizer turns a label image into raw text
type Recognizer interface {
	// RecognizeText transcribes the text in an image or PDF.
	// An empty string means the image held no readable text.
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases the recognizer's resources
	Close() error
}
