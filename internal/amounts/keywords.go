package amounts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// extractionKeywords maps line keywords to roles, in table order
var extractionKeywords = []struct {
	role    Role
	keyword string
}{
	{RoleTotalBill, "total"},
	{RoleTotalBill, "total bill"},
	{RolePaid, "paid"},
	{RolePaid, "amount paid"},
	{RoleDue, "due"},
	{RoleDue, "balance"},
	{RoleDiscount, "discount"},
}

// classificationRules are tried in priority order. Confidence reflects how
// reliably each keyword names its role.
var classificationRules = []struct {
	role       Role
	tokens     []string
	pattern    *regexp.Regexp
	confidence float64
}{
	{RoleTotalBill, []string{"total"}, regexp.MustCompile(`(?i)total`), 0.9},
	{RolePaid, []string{"paid"}, regexp.MustCompile(`(?i)paid`), 0.85},
	{RoleDue, []string{"due", "balance"}, regexp.MustCompile(`(?i)due|balance`), 0.8},
	{RoleDiscount, []string{"discount"}, regexp.MustCompile(`(?i)discount`), 0.75},
}

const (
	// WindowSize is how many tokens on each side of a value are searched
	WindowSize = 3

	unknownConfidence = 0.5
)

var (
	reLineBreak  = regexp.MustCompile(`\r?\n`)
	reTokenSplit = regexp.MustCompile(`[\s,.:;]+`)
	reNonNumeric = regexp.MustCompile(`[^0-9.]`)
)

// splitLines splits text into trimmed, non-empty lines
func splitLines(text string) []string {
	raw := reLineBreak.Split(text, -1)
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// findTotalsLine returns the index of the first line starting with "total", or -1
func findTotalsLine(lines []string) int {
	for i, l := range lines {
		if strings.HasPrefix(strings.ToLower(l), "total") {
			return i
		}
	}
	return -1
}

type keywordHit struct {
	role    Role
	keyword string
	start   int
}

// keywordHits returns the role keywords found in a lowercased line in order
// of appearance. Where keywords overlap, the longest one at the earliest
// position is kept.
func keywordHits(line string) []keywordHit {
	var all []keywordHit
	for _, kw := range extractionKeywords {
		for off := 0; off < len(line); {
			i := strings.Index(line[off:], kw.keyword)
			if i < 0 {
				break
			}
			all = append(all, keywordHit{role: kw.role, keyword: kw.keyword, start: off + i})
			off += i + 1
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return len(all[i].keyword) > len(all[j].keyword)
	})

	hits := make([]keywordHit, 0, len(all))
	end := 0
	for _, h := range all {
		if h.start < end {
			continue
		}
		hits = append(hits, h)
		end = h.start + len(h.keyword)
	}
	return hits
}

// exactKeyword reports the role of a lowercased line that is exactly one keyword
func exactKeyword(line string) (Role, bool) {
	for _, kw := range extractionKeywords {
		if line == kw.keyword {
			return kw.role, true
		}
	}
	return RoleUnknown, false
}

// roleKeyword is the canonical keyword written into a totals-line source
func roleKeyword(r Role) string {
	switch r {
	case RoleTotalBill:
		return "total"
	case RolePaid:
		return "paid"
	case RoleDue:
		return "due"
	case RoleDiscount:
		return "discount"
	}
	return string(r)
}

// tokenize lowercases a source fragment and splits it on whitespace and ,.:;
func tokenize(source string) []string {
	return reTokenSplit.Split(strings.ToLower(source), -1)
}

// numericForm drops every character except digits and the decimal point
func numericForm(s string) string {
	return reNonNumeric.ReplaceAllString(s, "")
}

// valueDigits renders a value as the bare digit string it would appear as in text
func valueDigits(v float64) string {
	return numericForm(strconv.FormatFloat(v, 'f', -1, 64))
}

// indexOfValue returns the position of the token whose numeric form equals
// digits, or -1.
func indexOfValue(tokens []string, digits string) int {
	for i, t := range tokens {
		if numericForm(t) == digits {
			return i
		}
	}
	return -1
}

// windowRole searches size tokens either side of idx for the first role keyword
func windowRole(tokens []string, idx, size int) (Role, float64, bool) {
	start := max(0, idx-size)
	end := min(len(tokens)-1, idx+size)
	for i := start; i <= end; i++ {
		for _, rule := range classificationRules {
			for _, kw := range rule.tokens {
				if tokens[i] == kw {
					return rule.role, rule.confidence, true
				}
			}
		}
	}
	return RoleUnknown, unknownConfidence, false
}

// fragmentRole tests the whole fragment against each rule in priority order
func fragmentRole(source string) (Role, float64, bool) {
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(source) {
			return rule.role, rule.confidence, true
		}
	}
	return RoleUnknown, unknownConfidence, false
}
