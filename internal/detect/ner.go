package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"

	"entity-privacy-wrapper/internal/alias"
)

// NER runs prose's statistical named-entity model in process. Labels follow
// the model (PERSON, GPE, ORG ...).
type NER struct{}

// NewNER returns a NER detector.
func NewNER() *NER { return &NER{} }

// Name implements Detector.
func (n *NER) Name() string { return "ner" }

// Detect implements Detector.
//
// prose reports entity text without offsets, so each entity is located by
// scanning forward from the previous one. Entities whose text cannot be found
// verbatim (the tokenizer re-joined them differently) are skipped.
func (n *NER) Detect(ctx context.Context, text string) (mentions []alias.Mention, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			mentions, err = nil, fmt.Errorf("ner model panic: %v", r)
		}
	}()

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("ner document: %w", err)
	}

	cursor := 0
	for _, ent := range doc.Entities() {
		if ent.Text == "" {
			continue
		}
		start := -1
		if i := strings.Index(text[cursor:], ent.Text); i >= 0 {
			start = cursor + i
		} else if i := strings.Index(text, ent.Text); i >= 0 {
			start = i
		}
		if start < 0 {
			continue
		}
		end := start + len(ent.Text)
		mentions = append(mentions, alias.Mention{
			Text:     ent.Text,
			Label:    ent.Label,
			Start:    start,
			End:      end,
			Detector: n.Name(),
		})
		if end > cursor {
			cursor = end
		}
	}
	return mentions, nil
}
