package scanning

import (
	"strings"
)

// cleanTranscript strips the wrapping a model sometimes puts around a transcript
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```text")
		text = strings.TrimPrefix(text, "```plaintext")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if strings.EqualFold(strings.Trim(text, ". "), noTextMarker) {
		return ""
	}
	return text
}
