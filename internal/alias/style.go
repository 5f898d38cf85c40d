package alias

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Style selects how placeholders are spelled.
type Style string

// Supported placeholder styles.
const (
	// StyleNumeric produces PERSON_1, PERSON_2, ORG_1 ...
	StyleNumeric Style = "numeric"
	// StyleLetter produces Pers_A, Pers_B, ..., Pers_Z, Pers_A1 ...
	StyleLetter Style = "letter"
)

// DefaultLabels are the entity labels whose placeholder prefixes are always
// recognised when scanning a reply for unknown placeholders.
var DefaultLabels = []string{
	"PERSON", "ORG", "GPE", "LOC", "NORP", "FAC", "PRODUCT", "EVENT",
	"DATE", "TIME", "MONEY", "EMAIL", "PHONE", "IP_ADDRESS", "URL",
}

// letterPrefixes are the short prefixes used by StyleLetter.
var letterPrefixes = map[string]string{
	"PERSON":  "Pers",
	"ORG":     "Org",
	"GPE":     "Loc",
	"LOC":     "Loc",
	"PRODUCT": "Prod",
	"DATE":    "Date",
	"TIME":    "Time",
	"MONEY":   "Mon",
}

// ParseStyle converts a config string to a Style. Empty means numeric.
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleNumeric:
		return StyleNumeric, nil
	case StyleLetter:
		return StyleLetter, nil
	}
	return "", fmt.Errorf("unknown alias style %q (want %q or %q)", s, StyleNumeric, StyleLetter)
}

// CanonicalLabel upper-cases a detector label and folds anything outside
// [A-Z0-9] into single underscores. An empty result becomes "ENTITY".
func CanonicalLabel(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToUpper(strings.TrimSpace(label)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "ENTITY"
	}
	return b.String()
}

// Prefix returns the part of a placeholder before the final underscore.
func (s Style) Prefix(label string) string {
	label = CanonicalLabel(label)
	if s != StyleLetter {
		return label
	}
	if p, ok := letterPrefixes[label]; ok {
		return p
	}
	// Title-cased first four letters, e.g. NORP -> Norp, WORK_OF_ART -> Work.
	var b strings.Builder
	for _, r := range label {
		if !unicode.IsLetter(r) {
			continue
		}
		if b.Len() == 0 {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		if b.Len() == 4 {
			break
		}
	}
	if b.Len() == 0 {
		return "Ent"
	}
	return b.String()
}

// Placeholder returns the idx-th (zero-based) placeholder for label.
func (s Style) Placeholder(label string, idx int) string {
	prefix := s.Prefix(label)
	if s == StyleLetter {
		suffix := string(rune('A' + idx%26))
		if idx >= 26 {
			suffix += strconv.Itoa(idx / 26)
		}
		return prefix + "_" + suffix
	}
	return prefix + "_" + strconv.Itoa(idx+1)
}
