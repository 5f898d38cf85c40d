package detect

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// htmlStartRe matches the opening tag a pasted document or rich-text fragment
// starts with. Inline tags such as <b> or <a> are not enough on their own.
var htmlStartRe = regexp.MustCompile(`(?i)^<(?:!doctype|html|head|body|p|div|table|ul|ol|h[1-6])\b[^>]*>`)

// Normalize puts text in the form every other step expects: Unicode NFC and
// "\n" line endings. Masking and unmasking compare bytes, so both sides must
// be normalized the same way.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return norm.NFC.String(s)
}

// Prepare normalizes pasted input and, when it is HTML markup, reduces it to
// its visible text.
func Prepare(s string) string {
	s = Normalize(s)
	if LooksLikeHTML(s) {
		s = ExtractText(s)
	}
	return s
}

// LooksLikeHTML reports whether s is an HTML document or block fragment: it
// must start with a document or block-level tag and end with a tag. Plain text
// that merely contains angle brackets is left alone.
func LooksLikeHTML(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ">") && htmlStartRe.MatchString(s)
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true,
}

// ExtractText returns the visible text of an HTML fragment. Script and style
// content is dropped, block elements become line breaks and runs of blank
// space inside a line collapse to one space.
func ExtractText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
