package amounts

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// totalsRoles assigns the first three numbers of a totals line, in order
var totalsRoles = []Role{RoleTotalBill, RolePaid, RoleDue}

// Extractor reads candidate amounts and a currency marker out of OCR text
type Extractor struct {
	patterns *patterns
	logger   *slog.Logger
}

// NewExtractor creates an Extractor for the given currency markers.
// An empty set falls back to DefaultCurrencies.
func NewExtractor(currencies CurrencySet, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		patterns: compilePatterns(currencies),
		logger:   logger,
	}
}

// Extract runs the totals-line strategy, falling back to keyword-then-value
// when it yields nothing, and detects the currency independently.
func (e *Extractor) Extract(text string) Extraction {
	lines := splitLines(text)

	found := e.fromTotalsLine(lines)
	strategy := "totals_line"
	if len(found) == 0 {
		found = e.fromKeywords(lines)
		strategy = "keywords"
	}

	currency := e.detectCurrency(lines)
	e.logger.Debug("extraction finished",
		"lines", len(lines),
		"strategy", strategy,
		"amounts", len(found),
		"currency", currency,
	)

	return Extraction{
		Currency: currency,
		Amounts:  found,
	}
}

// fromTotalsLine reads total, paid and due from the first line starting
// with "total" when it carries at least three grouped or decimal numbers.
// Numbers past the third are ignored.
func (e *Extractor) fromTotalsLine(lines []string) []RawAmount {
	found := make([]RawAmount, 0, len(totalsRoles))

	idx := findTotalsLine(lines)
	if idx < 0 {
		return found
	}

	values := e.patterns.totals.FindAllString(lines[idx], -1)
	if len(values) < len(totalsRoles) {
		e.logger.Debug("totals line has too few numbers", "line", lines[idx], "numbers", len(values))
		return found
	}

	for i, role := range totalsRoles {
		literal := strings.TrimSpace(values[i])
		value, ok := e.parseValue(literal)
		if !ok {
			e.logger.Warn("skipping unparseable totals value", "type", role, "value", literal)
			continue
		}
		found = append(found, RawAmount{
			Type:   role,
			Value:  value,
			Source: roleKeyword(role) + " " + literal,
		})
	}
	return found
}

// fromKeywords pairs role keywords with the numbers on the line that follows.
// A line with several keywords is zipped with the next line's numbers; a line
// that is exactly one keyword takes the first number of the next line.
// Consumed value lines are skipped.
func (e *Extractor) fromKeywords(lines []string) []RawAmount {
	found := make([]RawAmount, 0)

	for i := 0; i < len(lines); i++ {
		lower := strings.ToLower(lines[i])
		hits := keywordHits(lower)

		if len(hits) > 1 && i+1 < len(lines) {
			values := e.patterns.value.FindAllString(lines[i+1], -1)
			for j, hit := range hits {
				if j >= len(values) {
					break
				}
				literal := strings.TrimSpace(values[j])
				value, ok := e.parseValue(literal)
				if !ok {
					e.logger.Warn("skipping unparseable value", "type", hit.role, "value", literal)
					continue
				}
				found = append(found, RawAmount{
					Type:   hit.role,
					Value:  value,
					Source: hit.keyword + " " + literal,
				})
			}
			i++
			continue
		}

		role, ok := exactKeyword(lower)
		if !ok || i+1 >= len(lines) {
			continue
		}
		literal := e.patterns.value.FindString(lines[i+1])
		if literal == "" {
			continue
		}
		value, ok := e.parseValue(literal)
		if !ok {
			e.logger.Warn("skipping unparseable value", "type", role, "value", strings.TrimSpace(literal))
			continue
		}
		found = append(found, RawAmount{
			Type:   role,
			Value:  value,
			Source: lower + " " + lines[i+1],
		})
		i++
	}
	return found
}

// detectCurrency returns the literal text of the first currency marker,
// scanning lines in order.
func (e *Extractor) detectCurrency(lines []string) string {
	for _, line := range lines {
		if m := e.patterns.marker.FindString(line); m != "" {
			return m
		}
	}
	return UnknownCurrency
}

// parseValue strips currency markers, separators and percent signs and
// parses what remains.
func (e *Extractor) parseValue(literal string) (float64, bool) {
	cleaned := e.patterns.strip.ReplaceAllString(literal, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
