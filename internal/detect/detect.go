// Package detect finds named entities in text.
//
// Detectors are small and independent (statistical NER, regex recognizers, a
// user gazetteer) and are combined by a Chain. A failing detector never hides
// the mentions found by the others: Chain returns what it has together with
// the joined errors, and callers treat those errors as notices.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/logger"
)

// Detector reports entity mentions with byte offsets into text.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]alias.Mention, error)
}

// Chain runs detectors in order and merges their mentions.
type Chain struct {
	detectors []Detector
	labels    map[string]bool // canonical labels; nil keeps all
	log       *logger.Logger
}

// NewChain builds a Chain. labels, when non-empty, restricts the output to
// those entity labels.
func NewChain(log *logger.Logger, labels []string, detectors ...Detector) *Chain {
	if log == nil {
		log = logger.Discard()
	}
	c := &Chain{detectors: detectors, log: log}
	if len(labels) > 0 {
		c.labels = make(map[string]bool, len(labels))
		for _, l := range labels {
			c.labels[alias.CanonicalLabel(l)] = true
		}
	}
	return c
}

// Name implements Detector.
func (c *Chain) Name() string { return "chain" }

// Detectors returns the names of the chained detectors.
func (c *Chain) Detectors() []string {
	names := make([]string, len(c.detectors))
	for i, d := range c.detectors {
		names[i] = d.Name()
	}
	return names
}

// Detect runs every detector and returns the merged mentions sorted by start
// offset, longer spans first on ties. The error, if any, joins the individual
// detector failures; the mentions are valid either way.
func (c *Chain) Detect(ctx context.Context, text string) ([]alias.Mention, error) {
	var (
		all  []alias.Mention
		errs []error
	)
	for _, d := range c.detectors {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		found, err := d.Detect(ctx, text)
		if err != nil {
			c.log.Warnf("detector_failed", "%s: %v", d.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
		kept := 0
		for _, m := range found {
			if c.labels != nil && !c.labels[alias.CanonicalLabel(m.Label)] {
				continue
			}
			if m.Detector == "" {
				m.Detector = d.Name()
			}
			all = append(all, m)
			kept++
		}
		c.log.Debugf("detector_done", "%s: %d mentions (%d kept)", d.Name(), len(found), kept)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].Len() > all[j].Len()
	})
	return all, errors.Join(errs...)
}
