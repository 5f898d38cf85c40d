// Package alias maps detected entities to placeholder tokens and applies the
// mapping in both directions.
//
// The flow is:
//  1. A detector reports Mentions (surface text, label, byte offsets).
//  2. Build resolves overlapping spans, deduplicates by surface text and assigns
//     one placeholder per distinct original, in order of first appearance.
//  3. The caller may edit placeholders or exclude rows (the review step).
//  4. Mask rewrites the source text; Unmask restores a reply that contains
//     placeholders, reporting unknown placeholder-shaped tokens as warnings.
//
// Everything in this package is pure: a Mapping is owned by its caller and is
// not safe for concurrent mutation.
package alias

import "sort"

// Mention is one detected occurrence of a named entity.
type Mention struct {
	Text     string `json:"text"`
	Label    string `json:"label"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Detector string `json:"detector,omitempty"`
}

// Len returns the span length in bytes.
func (m Mention) Len() int { return m.End - m.Start }

func (m Mention) overlaps(o Mention) bool {
	return m.Start < o.End && o.Start < m.End
}

// ResolveOverlaps returns the mentions that survive overlap resolution, sorted
// by start offset.
//
// Longer spans win. Equal lengths go to the leftmost span, and identical spans
// to the mention reported first. Mentions with empty text or an empty span are
// dropped.
func ResolveOverlaps(mentions []Mention) []Mention {
	cand := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.Text == "" || m.Start < 0 || m.End <= m.Start {
			continue
		}
		cand = append(cand, m)
	}

	sort.SliceStable(cand, func(i, j int) bool {
		if cand[i].Len() != cand[j].Len() {
			return cand[i].Len() > cand[j].Len()
		}
		return cand[i].Start < cand[j].Start
	})

	kept := make([]Mention, 0, len(cand))
	for _, m := range cand {
		clash := false
		for _, k := range kept {
			if m.overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, m)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
