// Package metrics keeps lock-minimal counters for the wrapper.
//
// Counters use sync/atomic. Latency statistics share one mutex per dimension
// and are updated at most once per operation.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"entity-privacy-wrapper/internal/alias"
)

// Metrics holds all runtime counters for one process.
// The zero value is usable, but per-label counts need New.
type Metrics struct {
	RequestsTotal atomic.Int64

	SessionsCreated atomic.Int64
	SessionsEvicted atomic.Int64

	Detections      atomic.Int64 // detection runs
	DetectionErrors atomic.Int64 // runs where at least one detector failed
	EntitiesFound   atomic.Int64 // mentions surviving overlap resolution
	RateLimited     atomic.Int64

	Masks          atomic.Int64
	Unmasks        atomic.Int64
	UnmappedTokens atomic.Int64 // unmask warnings
	EditsRejected  atomic.Int64 // review edits refused for collisions etc.

	// Written only in New, so concurrent reads need no lock.
	labels map[string]*atomic.Int64
	other  atomic.Int64

	detectMu   sync.Mutex
	detectStat latencyStats

	maskMu   sync.Mutex
	maskStat latencyStats

	startTime time.Time
}

// New returns Metrics with the start time recorded and a counter for every
// default label.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		labels:    make(map[string]*atomic.Int64, len(alias.DefaultLabels)),
	}
	for _, l := range alias.DefaultLabels {
		m.labels[l] = new(atomic.Int64)
	}
	return m
}

// RecordEntity counts one detected entity by label. Labels outside the
// default set are counted as "OTHER".
func (m *Metrics) RecordEntity(label string) {
	m.EntitiesFound.Add(1)
	if c, ok := m.labels[alias.CanonicalLabel(label)]; ok {
		c.Add(1)
		return
	}
	m.other.Add(1)
}

// RecordDetectLatency records the duration of one detection run.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(float64(d.Microseconds()) / 1000.0)
	m.detectMu.Unlock()
}

// RecordMaskLatency records the duration of one mask or unmask call.
func (m *Metrics) RecordMaskLatency(d time.Duration) {
	m.maskMu.Lock()
	m.maskStat.record(float64(d.Microseconds()) / 1000.0)
	m.maskMu.Unlock()
}

// Snapshot returns a point-in-time copy, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.maskMu.Lock()
	mask := m.maskStat.snapshot()
	m.maskMu.Unlock()

	byLabel := make(map[string]int64, len(m.labels)+1)
	for l, c := range m.labels {
		if n := c.Load(); n > 0 {
			byLabel[l] = n
		}
	}
	if n := m.other.Load(); n > 0 {
		byLabel["OTHER"] = n
	}

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Requests: m.RequestsTotal.Load(),
		Sessions: SessionSnapshot{
			Created: m.SessionsCreated.Load(),
			Evicted: m.SessionsEvicted.Load(),
		},
		Detection: DetectionSnapshot{
			Runs:        m.Detections.Load(),
			Errors:      m.DetectionErrors.Load(),
			Entities:    m.EntitiesFound.Load(),
			ByLabel:     byLabel,
			RateLimited: m.RateLimited.Load(),
		},
		Masking: MaskingSnapshot{
			Masks:          m.Masks.Load(),
			Unmasks:        m.Unmasks.Load(),
			UnmappedTokens: m.UnmappedTokens.Load(),
			EditsRejected:  m.EditsRejected.Load(),
		},
		Latency: LatencyGroup{
			DetectMs: detect,
			MaskMs:   mask,
		},
		UptimeSecs: uptime,
	}
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   int64             `json:"requests"`
	Sessions   SessionSnapshot   `json:"sessions"`
	Detection  DetectionSnapshot `json:"detection"`
	Masking    MaskingSnapshot   `json:"masking"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// SessionSnapshot holds session store counters.
type SessionSnapshot struct {
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
}

// DetectionSnapshot holds detector counters. ByLabel lists non-zero labels only.
type DetectionSnapshot struct {
	Runs        int64            `json:"runs"`
	Errors      int64            `json:"errors"`
	Entities    int64            `json:"entities"`
	ByLabel     map[string]int64 `json:"byLabel,omitempty"`
	RateLimited int64            `json:"rateLimited"`
}

// MaskingSnapshot holds mask/unmask counters.
type MaskingSnapshot struct {
	Masks          int64 `json:"masks"`
	Unmasks        int64 `json:"unmasks"`
	UnmappedTokens int64 `json:"unmappedTokens"`
	EditsRejected  int64 `json:"editsRejected"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	DetectMs LatencySnapshot `json:"detectMs"`
	MaskMs   LatencySnapshot `json:"maskMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
