package tesseract

import (
	"regexp"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

var (
	reCRLF     = regexp.MustCompile(`\r\n?`)
	reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-=]{3,}\s*$`)
	reBlank    = regexp.MustCompile(`\n{3,}`)
)

// cleanText drops separator rules and collapses runs of blank lines
func cleanText(text string) string {
	text = reCRLF.ReplaceAllString(text, "\n")
	text = reBoxNoise.ReplaceAllString(text, "")
	text = reBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// meanConfidence averages the word confidences reported by the engine.
// Boxes without a word or with a negative confidence are ignored.
func meanConfidence(boxes []gosseract.BoundingBox) float64 {
	var sum float64
	var n int
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" || b.Confidence < 0 {
			continue
		}
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
