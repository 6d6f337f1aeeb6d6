package label

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	// Border and bullet glyphs OCR picks up from the printed label frame
	labelPunctuation = regexp.MustCompile(`[|¦•·▪■□]+`)
	whitespaceRun    = regexp.MustCompile(`[\s\x{00A0}\x{2000}-\x{200B}\x{3000}]+`)
)

// Normalize folds recognised label text onto a single line.
// Fullwidth forms fold to their ASCII counterparts, newlines and label
// punctuation become spaces and whitespace runs collapse to one space.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	s := width.Fold.String(text)
	s = labelPunctuation.ReplaceAllString(s, " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
