package alias

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors returned by mapping edits.
var (
	ErrPlaceholderCollision = errors.New("placeholder already assigned")
	ErrUnknownOriginal      = errors.New("original not in mapping")
	ErrEmptyPlaceholder     = errors.New("placeholder must not be empty")
	ErrEmptyOriginal        = errors.New("original must not be empty")
)

// CollisionError reports two originals that would share one placeholder.
type CollisionError struct {
	Placeholder string
	Existing    string
	Conflicting string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("placeholder %q is assigned to both %q and %q", e.Placeholder, e.Existing, e.Conflicting)
}

// Unwrap lets errors.Is match ErrPlaceholderCollision.
func (e *CollisionError) Unwrap() error { return ErrPlaceholderCollision }

// Entry is one row of the mapping.
type Entry struct {
	Original    string `json:"original"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Include     bool   `json:"include"`
}

// Edit overwrites one row during review. Rows not named in an edit batch keep
// their current values.
type Edit struct {
	Original    string `json:"original"`
	Placeholder string `json:"placeholder"`
	Include     bool   `json:"include"`
}

// Mapping is a bidirectional original <-> placeholder table. Entries keep the
// order in which originals were first seen.
//
// Both directions are injective across all entries, excluded ones included,
// so an excluded row keeps its placeholder reserved.
type Mapping struct {
	style         Style
	entries       []Entry
	byOriginal    map[string]int
	byPlaceholder map[string]int
	counters      map[string]int // next zero-based index per canonical label
}

// New returns an empty mapping that names placeholders in the given style.
func New(style Style) *Mapping {
	if style == "" {
		style = StyleNumeric
	}
	return &Mapping{
		style:         style,
		byOriginal:    make(map[string]int),
		byPlaceholder: make(map[string]int),
		counters:      make(map[string]int),
	}
}

// Build creates a mapping from detected mentions.
func Build(mentions []Mention, style Style) *Mapping {
	m := New(style)
	m.Extend(mentions)
	return m
}

// Extend adds originals not already present, keeping every existing
// placeholder, and returns the number of entries added.
func (m *Mapping) Extend(mentions []Mention) int {
	added := 0
	for _, mention := range ResolveOverlaps(mentions) {
		if _, ok := m.byOriginal[mention.Text]; ok {
			continue
		}
		label := CanonicalLabel(mention.Label)
		p := m.nextPlaceholder(label)
		m.entries = append(m.entries, Entry{
			Original:    mention.Text,
			Label:       label,
			Placeholder: p,
			Include:     true,
		})
		idx := len(m.entries) - 1
		m.byOriginal[mention.Text] = idx
		m.byPlaceholder[p] = idx
		added++
	}
	return added
}

// nextPlaceholder advances the label counter until it yields a placeholder
// that is neither assigned nor equal to an original.
func (m *Mapping) nextPlaceholder(label string) string {
	for {
		idx := m.counters[label]
		m.counters[label] = idx + 1
		p := m.style.Placeholder(label, idx)
		if _, taken := m.byPlaceholder[p]; taken {
			continue
		}
		if _, isOriginal := m.byOriginal[p]; isOriginal {
			continue
		}
		return p
	}
}

// Style returns the placeholder style.
func (m *Mapping) Style() Style { return m.style }

// Len returns the number of entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of all rows in first-seen order.
func (m *Mapping) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Lookup returns the row for an original value.
func (m *Mapping) Lookup(original string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	i, ok := m.byOriginal[original]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Original returns the original value behind a placeholder.
func (m *Mapping) Original(placeholder string) (string, bool) {
	if m == nil {
		return "", false
	}
	i, ok := m.byPlaceholder[placeholder]
	if !ok {
		return "", false
	}
	return m.entries[i].Original, true
}

// Pairs returns the included rows as original -> placeholder.
func (m *Mapping) Pairs() map[string]string {
	out := make(map[string]string)
	for _, e := range m.active() {
		out[e.Original] = e.Placeholder
	}
	return out
}

func (m *Mapping) active() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Include {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy.
func (m *Mapping) Clone() *Mapping {
	c := New(m.style)
	c.entries = make([]Entry, len(m.entries))
	copy(c.entries, m.entries)
	for k, v := range m.byOriginal {
		c.byOriginal[k] = v
	}
	for k, v := range m.byPlaceholder {
		c.byPlaceholder[k] = v
	}
	for k, v := range m.counters {
		c.counters[k] = v
	}
	return c
}

// SetPlaceholder overwrites the placeholder of one original.
// On error the mapping is unchanged.
func (m *Mapping) SetPlaceholder(original, placeholder string) error {
	e, ok := m.Lookup(original)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOriginal, original)
	}
	return m.Apply([]Edit{{Original: original, Placeholder: placeholder, Include: e.Include}})
}

// SetInclude toggles whether an original is masked and unmasked.
func (m *Mapping) SetInclude(original string, include bool) error {
	e, ok := m.Lookup(original)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOriginal, original)
	}
	return m.Apply([]Edit{{Original: original, Placeholder: e.Placeholder, Include: include}})
}

// Apply validates and commits a batch of edits as one unit. The batch may
// swap placeholders between rows; only the end state has to be injective.
// On error the mapping is unchanged.
func (m *Mapping) Apply(edits []Edit) error {
	next := m.Clone()
	for _, e := range edits {
		i, ok := next.byOriginal[e.Original]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownOriginal, e.Original)
		}
		p := strings.TrimSpace(e.Placeholder)
		if p == "" {
			return fmt.Errorf("%w (original %q)", ErrEmptyPlaceholder, e.Original)
		}
		next.entries[i].Placeholder = p
		next.entries[i].Include = e.Include
	}
	if err := next.reindex(); err != nil {
		return err
	}
	*m = *next
	return nil
}

// reindex rebuilds both indexes from entries and enforces injectivity.
func (m *Mapping) reindex() error {
	byOriginal := make(map[string]int, len(m.entries))
	byPlaceholder := make(map[string]int, len(m.entries))
	for i, e := range m.entries {
		if e.Original == "" {
			return ErrEmptyOriginal
		}
		if e.Placeholder == "" {
			return fmt.Errorf("%w (original %q)", ErrEmptyPlaceholder, e.Original)
		}
		if _, dup := byOriginal[e.Original]; dup {
			return fmt.Errorf("duplicate original %q", e.Original)
		}
		if j, dup := byPlaceholder[e.Placeholder]; dup {
			return &CollisionError{
				Placeholder: e.Placeholder,
				Existing:    m.entries[j].Original,
				Conflicting: e.Original,
			}
		}
		byOriginal[e.Original] = i
		byPlaceholder[e.Placeholder] = i
	}
	m.byOriginal = byOriginal
	m.byPlaceholder = byPlaceholder
	return nil
}

// FromPairs rebuilds a mapping from an original -> placeholder table, such as
// the one printed by the mask command. Rows are ordered by original.
func FromPairs(pairs map[string]string, style Style) (*Mapping, error) {
	originals := make([]string, 0, len(pairs))
	for o := range pairs {
		originals = append(originals, o)
	}
	sort.Strings(originals)

	m := New(style)
	for _, o := range originals {
		m.entries = append(m.entries, Entry{
			Original:    o,
			Label:       labelOf(pairs[o]),
			Placeholder: strings.TrimSpace(pairs[o]),
			Include:     true,
		})
	}
	if err := m.reindex(); err != nil {
		return nil, err
	}
	return m, nil
}

// labelOf guesses the label from a numeric-style placeholder, e.g. ORG_3 -> ORG.
func labelOf(placeholder string) string {
	i := strings.LastIndexByte(placeholder, '_')
	if i <= 0 {
		return ""
	}
	return placeholder[:i]
}

type mappingJSON struct {
	Style   Style   `json:"style"`
	Entries []Entry `json:"entries"`
}

// MarshalJSON encodes the style and the rows.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	entries := m.entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(mappingJSON{Style: m.style, Entries: entries})
}

// UnmarshalJSON decodes and validates a mapping.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw mappingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	style, err := ParseStyle(string(raw.Style))
	if err != nil {
		return err
	}
	next := New(style)
	next.entries = raw.Entries
	if err := next.reindex(); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}
	*m = *next
	return nil
}

// ParseMapping accepts either the full mapping JSON ({"style", "entries"}) or
// a flat {"original": "placeholder"} object. style applies to the flat form.
func ParseMapping(data []byte, style Style) (*Mapping, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if _, full := probe["entries"]; full {
		var m Mapping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	var pairs map[string]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	m, err := FromPairs(pairs, style)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return m, nil
}
