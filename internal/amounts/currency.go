package amounts

import (
	"regexp"
	"strings"
)

// CurrencySet is the ordered list of markers recognized as a currency.
// Matching is case-insensitive.
type CurrencySet []string

// DefaultCurrencies are the markers used when none are configured
var DefaultCurrencies = CurrencySet{"INR", "Rs", "₹", "$"}

// ParseCurrencySet splits a comma-separated list of markers, skipping blanks
func ParseCurrencySet(s string) CurrencySet {
	var set CurrencySet
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set = append(set, part)
		}
	}
	return set
}

// alternation returns the markers as a quoted regexp alternation
func (c CurrencySet) alternation() string {
	quoted := make([]string, 0, len(c))
	for _, m := range c {
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	return strings.Join(quoted, "|")
}

// patterns holds every expression derived from a CurrencySet
type patterns struct {
	// totals line: grouped thousands (optionally with decimals) or plain decimals
	totals *regexp.Regexp
	// values line: any digit run, optional percent suffix
	value *regexp.Regexp
	// a currency marker anywhere
	marker *regexp.Regexp
	// currency markers and thousands separators to strip before parsing
	strip *regexp.Regexp
}

func compilePatterns(c CurrencySet) *patterns {
	if len(c) == 0 {
		c = DefaultCurrencies
	}
	alt := c.alternation()
	return &patterns{
		totals: regexp.MustCompile(`(?i)(?:` + alt + `)?\s*((?:\d{1,3},)+\d{3}(?:\.\d+)?|\d+\.\d+)`),
		value:  regexp.MustCompile(`(?i)(?:` + alt + `)?\s*([\d,]+\.?\d*)%?`),
		marker: regexp.MustCompile(`(?i)(?:` + alt + `)`),
		strip:  regexp.MustCompile(`(?i)(?:` + alt + `)|[,%\s]`),
	}
}
