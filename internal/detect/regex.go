package detect

import (
	"context"
	"regexp"
	"strings"

	"entity-privacy-wrapper/internal/alias"
)

// recognizer pairs a compiled regex with the label it produces.
type recognizer struct {
	re    *regexp.Regexp
	label string
}

const months = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var recognizerSpecs = []struct {
	expr  string
	label string
}{
	{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "EMAIL"},
	{`https?://[^\s"'<>]+`, "URL"},
	{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, "IP_ADDRESS"},
	{`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{2,4}\)[\s.\-]?)?\b\d{3,4}[\s.\-]\d{3,4}(?:[\s.\-]\d{2,4})?\b`, "PHONE"},
	{`[$€£¥]\s?\d{1,3}(?:[,.]\d{3})*(?:[.,]\d{1,2})?(?:\s?(?:million|billion|[kKmM])\b)?`, "MONEY"},
	{`\b\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?\s?(?:USD|EUR|GBP|dollars|euros|pounds)\b`, "MONEY"},
	{`\b\d{4}-\d{2}-\d{2}\b`, "DATE"},
	{`\b\d{1,2}/\d{1,2}/\d{2,4}\b`, "DATE"},
	{`\b` + months + `\.? \d{1,2}(?:st|nd|rd|th)?,? \d{4}\b`, "DATE"},
	{`\b\d{1,2} ` + months + `\.? \d{4}\b`, "DATE"},
	{`\b(?:[01]?\d|2[0-3]):[0-5]\d(?:\s?[AaPp][Mm])?\b`, "TIME"},
}

// Regex detects structured entities (contact details, money, dates, times).
type Regex struct {
	recognizers []recognizer
}

// NewRegex compiles the built-in recognizers. When labels is non-empty only
// recognizers producing one of those labels are kept.
func NewRegex(labels ...string) *Regex {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[alias.CanonicalLabel(l)] = true
	}
	r := &Regex{}
	for _, s := range recognizerSpecs {
		if len(want) > 0 && !want[s.label] {
			continue
		}
		r.recognizers = append(r.recognizers, recognizer{re: regexp.MustCompile(s.expr), label: s.label})
	}
	return r
}

// Name implements Detector.
func (r *Regex) Name() string { return "regex" }

// Labels lists the labels this detector can produce.
func (r *Regex) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.recognizers {
		if !seen[rec.label] {
			seen[rec.label] = true
			out = append(out, rec.label)
		}
	}
	return out
}

// Detect implements Detector.
func (r *Regex) Detect(ctx context.Context, text string) ([]alias.Mention, error) {
	var out []alias.Mention
	for _, rec := range r.recognizers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, loc := range rec.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if rec.label == "URL" {
				// Sentence punctuation is rarely part of the link.
				end = start + len(strings.TrimRight(text[start:end], ".,;:!?)]"))
			}
			if end <= start {
				continue
			}
			out = append(out, alias.Mention{
				Text:     text[start:end],
				Label:    rec.label,
				Start:    start,
				End:      end,
				Detector: r.Name(),
			})
		}
	}
	return out, nil
}
