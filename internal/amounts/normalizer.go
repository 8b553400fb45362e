package amounts

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// confusables maps characters OCR commonly reads in place of digits
var confusables = map[rune]rune{
	'O': '0',
	'o': '0',
	'I': '1',
	'l': '1',
	'|': '1',
	'S': '5',
	's': '5',
	'B': '8',
}

// Normalizer repairs OCR digit misreads and reports how many needed repair
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize repairs the rendered values of extracted amounts
func (n *Normalizer) Normalize(amounts []RawAmount) NormalizationResult {
	raw := make([]string, 0, len(amounts))
	for _, a := range amounts {
		raw = append(raw, decimal.NewFromFloat(a.Value).String())
	}
	return n.NormalizeStrings(raw)
}

// NormalizeStrings repairs raw numeric strings. Strings that still fail to
// parse are dropped and do not count toward the confidence.
func (n *Normalizer) NormalizeStrings(raw []string) NormalizationResult {
	values := make([]float64, 0, len(raw))
	corrections := 0

	for _, s := range raw {
		fixed, changed := repairDigits(s)
		v, err := strconv.ParseFloat(strings.TrimSpace(fixed), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			n.logger.Warn("dropping unparseable amount", "raw", s, "repaired", fixed)
			continue
		}
		values = append(values, v)
		if changed {
			corrections++
		}
	}

	confidence := 1.0
	if len(values) > 0 {
		confidence = 1 - float64(corrections)/float64(len(values))
	}

	n.logger.Debug("normalization finished",
		"input", len(raw),
		"parsed", len(values),
		"corrections", corrections,
	)

	return NormalizationResult{
		NormalizedAmounts:       values,
		NormalizationConfidence: confidence,
	}
}

// repairDigits substitutes confusable characters and reports whether any changed
func repairDigits(s string) (string, bool) {
	changed := false
	fixed := strings.Map(func(r rune) rune {
		if d, ok := confusables[r]; ok {
			changed = true
			return d
		}
		return r
	}, s)
	return fixed, changed
}
