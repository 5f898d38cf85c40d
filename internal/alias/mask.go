package alias

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Warning flags a placeholder-shaped token in a reply that the mapping does
// not know. The token is left in the output as is.
type Warning struct {
	Placeholder string `json:"placeholder"`
	Offset      int    `json:"offset"`
}

func (w Warning) String() string {
	return fmt.Sprintf("unknown placeholder %q at offset %d left unchanged", w.Placeholder, w.Offset)
}

// byLengthDesc orders keys longest first, ties lexicographically, so a key
// that contains another is always tried first.
func byLengthDesc(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
}

// Mask replaces every occurrence of each included original with its
// placeholder in a single left-to-right pass. At a given position longer
// originals win, so "John Smith" is never split into "John" + " Smith".
//
// Matching is plain substring matching: an original embedded in a longer word
// is replaced as well.
func Mask(text string, m *Mapping) string {
	if text == "" {
		return ""
	}
	entries := m.active()
	if len(entries) == 0 {
		return text
	}

	keys := make([]string, 0, len(entries))
	to := make(map[string]string, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Original)
		to[e.Original] = e.Placeholder
	}
	byLengthDesc(keys)

	oldnew := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		oldnew = append(oldnew, k, to[k])
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

// Unmask replaces every included placeholder in text with its original.
//
// Placeholders are matched as plain substrings. Tokens shaped like a
// placeholder (a known label prefix, an underscore and a counter, on word
// boundaries) are matched too; unknown ones stay verbatim and are reported as
// warnings. Where several candidates start at the same position the longest
// wins, so "PERSON_1-B" is not read as "PERSON_1" + "-B" and an unknown
// "PERSON_12" is not read as "PERSON_1" + "2".
func Unmask(text string, m *Mapping) (string, []Warning) {
	if text == "" {
		return "", nil
	}

	entries := m.active()
	to := make(map[string]string, len(entries))
	literals := make([]string, 0, len(entries))
	for _, e := range entries {
		to[e.Placeholder] = e.Original
		literals = append(literals, e.Placeholder)
	}
	byLengthDesc(literals)

	re := unmaskPattern(prefixes(m), literals)

	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var (
		b        strings.Builder
		warnings []Warning
		last     int
	)
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		token := text[start:end]
		b.WriteString(text[last:start])
		last = end

		if orig, ok := to[token]; ok {
			b.WriteString(orig)
			continue
		}
		// Only the shaped alternative (group 1) can produce an unknown token.
		b.WriteString(token)
		if loc[2] >= 0 {
			warnings = append(warnings, Warning{Placeholder: token, Offset: start})
		}
	}
	b.WriteString(text[last:])
	return b.String(), warnings
}

// unmaskPattern builds `(\b(?:P1|P2)_(?:\d+|[A-Z]\d*)\b)|lit1|lit2...` with
// leftmost-longest semantics.
func unmaskPattern(prefixes, literals []string) *regexp.Regexp {
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	var expr strings.Builder
	expr.WriteString(`(\b(?:`)
	expr.WriteString(strings.Join(quoted, "|"))
	expr.WriteString(`)_(?:\d+|[A-Z]\d*)\b)`)
	for _, l := range literals {
		expr.WriteString("|")
		expr.WriteString(regexp.QuoteMeta(l))
	}
	re := regexp.MustCompile(expr.String())
	re.Longest()
	return re
}

// prefixes collects every placeholder prefix worth watching for: those of the
// default labels in the mapping's style and those of the mapping's own rows.
func prefixes(m *Mapping) []string {
	style := StyleNumeric
	if m != nil {
		style = m.style
	}
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, l := range DefaultLabels {
		add(style.Prefix(l))
	}
	if m != nil {
		for _, e := range m.entries {
			if e.Label != "" {
				add(style.Prefix(e.Label))
			}
			add(labelOf(e.Placeholder))
		}
	}
	byLengthDesc(out)
	return out
}
