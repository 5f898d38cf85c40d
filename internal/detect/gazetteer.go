package detect

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"entity-privacy-wrapper/internal/alias"
)

// Term is one gazetteer entry.
type Term struct {
	Text  string `yaml:"text" json:"text"`
	Label string `yaml:"label" json:"label"`
}

// Gazetteer finds user-listed terms by exact, case-sensitive match. It covers
// names a statistical model misses, such as internal project names.
type Gazetteer struct {
	terms []Term
}

type gazetteerFile struct {
	Entities []Term `yaml:"entities"`
}

// NewGazetteer builds a gazetteer. Blank terms are ignored and duplicates keep
// the first label. Longer terms are searched first.
func NewGazetteer(terms []Term) *Gazetteer {
	seen := make(map[string]bool, len(terms))
	g := &Gazetteer{}
	for _, t := range terms {
		t.Text = strings.TrimSpace(t.Text)
		if t.Text == "" || seen[t.Text] {
			continue
		}
		seen[t.Text] = true
		t.Label = alias.CanonicalLabel(t.Label)
		g.terms = append(g.terms, t)
	}
	sort.SliceStable(g.terms, func(i, j int) bool { return len(g.terms[i].Text) > len(g.terms[j].Text) })
	return g
}

// LoadGazetteer reads a YAML file of the form:
//
//	entities:
//	  - text: Project Falcon
//	    label: PRODUCT
func LoadGazetteer(path string) (*Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	var f gazetteerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse gazetteer %s: %w", path, err)
	}
	return NewGazetteer(f.Entities), nil
}

// Len returns the number of distinct terms.
func (g *Gazetteer) Len() int { return len(g.terms) }

// Name implements Detector.
func (g *Gazetteer) Name() string { return "gazetteer" }

// Detect implements Detector.
func (g *Gazetteer) Detect(ctx context.Context, text string) ([]alias.Mention, error) {
	var out []alias.Mention
	for _, t := range g.terms {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], t.Text)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(t.Text)
			out = append(out, alias.Mention{Text: t.Text, Label: t.Label, Start: start, End: end, Detector: g.Name()})
			from = end
		}
	}
	return out, nil
}
