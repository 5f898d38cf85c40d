// Package session runs the detect, review, encode and decode workflow for one
// user at a time.
//
// A Session owns the source text, the detected mentions and the alias
// mapping. Nothing is global: every call names its session by ID and the
// Manager looks it up in a Store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/detect"
	"entity-privacy-wrapper/internal/logger"
	"entity-privacy-wrapper/internal/metrics"
)

// Errors returned by the workflow.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyText       = errors.New("text is empty")
	ErrNoSource        = errors.New("nothing to encode: run detection first")
	ErrNoActiveMapping = errors.New("no active mapping: encode a text first")
)

// NoticeNoEntities is reported when detection finds nothing.
const NoticeNoEntities = "no entities detected"

// Session is the state of one review workflow.
type Session struct {
	ID      string
	Created time.Time

	lastUsed time.Time // guarded by the Store

	mu       sync.Mutex
	style    alias.Style
	source   string
	mentions []alias.Mention
	mapping  *alias.Mapping
	notices  []string
	encoded  string
	active   *alias.Mapping // snapshot taken by the last Encode, used to decode
	decoded  string
	warnings []alias.Warning
}

// View is a copy of a session's state, safe to render or encode.
type View struct {
	ID       string            `json:"id"`
	Style    alias.Style       `json:"style"`
	Source   string            `json:"source,omitempty"`
	Mentions []alias.Mention   `json:"mentions"`
	Entries  []alias.Entry     `json:"entries"`
	Notices  []string          `json:"notices,omitempty"`
	Encoded  string            `json:"encoded,omitempty"`
	Active   bool              `json:"active"`
	Decoded  string            `json:"decoded,omitempty"`
	Warnings []alias.Warning   `json:"warnings,omitempty"`
	Pairs    map[string]string `json:"pairs,omitempty"`
}

func (s *Session) viewLocked() View {
	v := View{
		ID:       s.ID,
		Style:    s.style,
		Source:   s.source,
		Mentions: append([]alias.Mention(nil), s.mentions...),
		Notices:  append([]string(nil), s.notices...),
		Encoded:  s.encoded,
		Active:   s.active != nil,
		Decoded:  s.decoded,
		Warnings: append([]alias.Warning(nil), s.warnings...),
	}
	if s.mapping != nil {
		v.Entries = s.mapping.Entries()
	}
	if s.active != nil {
		v.Pairs = s.active.Pairs()
	}
	return v
}

// DetectResult is returned by Manager.Detect.
type DetectResult struct {
	Mentions []alias.Mention `json:"mentions"`
	Entries  []alias.Entry   `json:"entries"`
	Added    int             `json:"added"`
	Notices  []string        `json:"notices,omitempty"`
}

// Manager drives sessions held in a Store.
type Manager struct {
	store    *Store
	detector detect.Detector
	style    alias.Style
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewManager wires a manager. m and log may be nil.
func NewManager(store *Store, detector detect.Detector, style alias.Style, m *metrics.Metrics, log *logger.Logger) *Manager {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	if style == "" {
		style = alias.StyleNumeric
	}
	return &Manager{store: store, detector: detector, style: style, metrics: m, log: log}
}

// Style returns the placeholder style used for new sessions.
func (m *Manager) Style() alias.Style { return m.style }

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.store.Len() }

// Create starts a new session.
func (m *Manager) Create() View {
	s := m.store.Create(m.style)
	m.log.Debugf("create", "session=%s", shortID(s.ID))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Get returns the current state of a session.
func (m *Manager) Get(id string) (View, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(), nil
}

// Delete drops a session.
func (m *Manager) Delete(id string) error {
	if !m.store.Delete(id) {
		return ErrSessionNotFound
	}
	m.log.Debugf("delete", "session=%s", shortID(id))
	return nil
}

// Detect runs the detectors over text and extends the session mapping.
//
// Detector failures do not fail the call: they are returned as notices and
// the mapping is built from whatever was found. A new detection replaces the
// source text and clears the previous encoded output; existing aliases stay.
func (m *Manager) Detect(ctx context.Context, id, text string) (DetectResult, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return DetectResult{}, err
	}
	text = detect.Prepare(text)
	if strings.TrimSpace(text) == "" {
		return DetectResult{}, ErrEmptyText
	}

	mentions, notices := m.run(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapping == nil {
		s.mapping = alias.New(s.style)
	}
	added := s.mapping.Extend(mentions)
	s.source = text
	s.mentions = mentions
	s.notices = notices
	s.encoded = ""
	s.decoded = ""
	s.warnings = nil

	m.log.Infof("detect", "session=%s text=%s mentions=%d added=%d", shortID(id), logger.Fingerprint(text), len(mentions), added)
	return DetectResult{
		Mentions: append([]alias.Mention(nil), mentions...),
		Entries:  s.mapping.Entries(),
		Added:    added,
		Notices:  append([]string(nil), notices...),
	}, nil
}

// DetectText runs detection without a session and returns the resolved
// mentions and any notices.
func (m *Manager) DetectText(ctx context.Context, text string) ([]alias.Mention, []string, error) {
	text = detect.Prepare(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil, ErrEmptyText
	}
	mentions, notices := m.run(ctx, text)
	return mentions, notices, nil
}

// run detects and resolves overlaps, recording metrics. The text is already
// prepared.
func (m *Manager) run(ctx context.Context, text string) ([]alias.Mention, []string) {
	var notices []string
	start := time.Now()
	found, err := m.detector.Detect(ctx, text)
	m.metrics.RecordDetectLatency(time.Since(start))
	m.metrics.Detections.Add(1)
	if err != nil {
		m.metrics.DetectionErrors.Add(1)
		m.log.Warnf("detect", "detection incomplete: %v", err)
		notices = append(notices, fmt.Sprintf("detection incomplete: %v", err))
	}

	mentions := alias.ResolveOverlaps(found)
	for _, mn := range mentions {
		m.metrics.RecordEntity(mn.Label)
	}
	if len(mentions) == 0 {
		notices = append(notices, NoticeNoEntities)
	}
	return mentions, notices
}

// Edit applies review edits as one batch. On error the previous mapping is
// kept. A successful edit invalidates the last encoded output; replies to it
// still decode with the mapping it was encoded with until the next Encode.
func (m *Manager) Edit(id string, edits []alias.Edit) ([]alias.Entry, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapping == nil {
		s.mapping = alias.New(s.style)
	}
	if err := s.mapping.Apply(edits); err != nil {
		m.metrics.EditsRejected.Add(1)
		// err names originals, so it stays out of the log.
		m.log.Warnf("edit", "session=%s rejected batch of %d edits", shortID(id), len(edits))
		return nil, err
	}
	if len(edits) > 0 {
		s.encoded = ""
	}
	m.log.Debugf("edit", "session=%s edits=%d", shortID(id), len(edits))
	return s.mapping.Entries(), nil
}

// Encode masks the session's source text with its mapping and keeps a copy
// of that mapping for decoding replies.
func (m *Manager) Encode(id string) (string, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == "" || s.mapping == nil {
		return "", ErrNoSource
	}

	start := time.Now()
	s.encoded = alias.Mask(s.source, s.mapping)
	m.metrics.RecordMaskLatency(time.Since(start))
	m.metrics.Masks.Add(1)
	s.active = s.mapping.Clone()

	m.log.Infof("encode", "session=%s out=%s", shortID(id), logger.Fingerprint(s.encoded))
	return s.encoded, nil
}

// Decode restores originals in a reply using the mapping of the last Encode,
// whatever edits came after it. Unknown
// placeholder-shaped tokens are left in place and returned as warnings.
func (m *Manager) Decode(id, text string) (string, []alias.Warning, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return "", nil, err
	}
	text = detect.Normalize(text)
	if strings.TrimSpace(text) == "" {
		return "", nil, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", nil, ErrNoActiveMapping
	}

	start := time.Now()
	out, warnings := alias.Unmask(text, s.active)
	m.metrics.RecordMaskLatency(time.Since(start))
	m.metrics.Unmasks.Add(1)
	m.metrics.UnmappedTokens.Add(int64(len(warnings)))
	s.decoded = out
	s.warnings = warnings

	m.log.Infof("decode", "session=%s in=%s warnings=%d", shortID(id), logger.Fingerprint(text), len(warnings))
	return out, append([]alias.Warning(nil), warnings...), nil
}

// Reset clears all state of a session but keeps its ID.
func (m *Manager) Reset(id string) error {
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = ""
	s.mentions = nil
	s.mapping = nil
	s.notices = nil
	s.encoded = ""
	s.active = nil
	s.decoded = ""
	s.warnings = nil
	m.log.Debugf("reset", "session=%s", shortID(id))
	return nil
}

// shortID keeps log lines narrow; the full ID is not needed to correlate.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
