package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/detect"
	"entity-privacy-wrapper/internal/metrics"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

// fixedDetector reports every occurrence of its terms.
type fixedDetector struct {
	terms map[string]string // text -> label
	err   error
}

func (d *fixedDetector) Name() string { return "fixed" }

func (d *fixedDetector) Detect(_ context.Context, text string) ([]alias.Mention, error) {
	var out []alias.Mention
	for term, label := range d.terms {
		for from := 0; ; {
			i := strings.Index(text[from:], term)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, alias.Mention{Text: term, Label: label, Start: start, End: start + len(term)})
			from = start + len(term)
		}
	}
	return out, d.err
}

func newManager(t *testing.T, d detect.Detector) (*Manager, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewManager(NewStore(16, time.Hour, m), d, alias.StyleNumeric, m, nil), m
}

var people = &fixedDetector{terms: map[string]string{
	"Alice Johnson": "PERSON",
	"Alice":         "PERSON",
	"Berlin":        "GPE",
}}

// ── Workflow ─────────────────────────────────────────────────────────────────

func TestManager_FullWorkflow(t *testing.T) {
	mgr, m := newManager(t, people)
	id := mgr.Create().ID

	res, err := mgr.Detect(context.Background(), id, "Alice Johnson moved to Berlin. Alice likes it.")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Empty(t, res.Notices)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "PERSON_1", res.Entries[0].Placeholder)
	assert.Equal(t, "GPE_1", res.Entries[1].Placeholder)
	assert.Equal(t, "PERSON_2", res.Entries[2].Placeholder)

	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "PERSON_1 moved to GPE_1. PERSON_2 likes it.", enc)

	dec, warnings, err := mgr.Decode(id, "GPE_1 is great, PERSON_1. Ask PERSON_7.")
	require.NoError(t, err)
	assert.Equal(t, "Berlin is great, Alice Johnson. Ask PERSON_7.", dec)
	require.Len(t, warnings, 1)
	assert.Equal(t, "PERSON_7", warnings[0].Placeholder)

	v, err := mgr.Get(id)
	require.NoError(t, err)
	assert.True(t, v.Active)
	assert.Equal(t, enc, v.Encoded)
	assert.Equal(t, dec, v.Decoded)
	assert.Equal(t, "PERSON_1", v.Pairs["Alice Johnson"])

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Detection.Runs)
	assert.Equal(t, int64(3), snap.Detection.Entities)
	assert.Equal(t, int64(1), snap.Masking.Masks)
	assert.Equal(t, int64(1), snap.Masking.Unmasks)
	assert.Equal(t, int64(1), snap.Masking.UnmappedTokens)
}

func TestManager_EditThenEncode(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "Alice met Alice Johnson.")
	require.NoError(t, err)

	entries, err := mgr.Edit(id, []alias.Edit{
		{Original: "Alice", Placeholder: "the friend", Include: true},
		{Original: "Alice Johnson", Placeholder: "PERSON_1", Include: false},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "the friend met the friend Johnson.", enc)
}

func TestManager_EditCollisionKeepsMapping(t *testing.T) {
	mgr, m := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "Alice Johnson and Alice")
	require.NoError(t, err)
	before, err := mgr.Get(id)
	require.NoError(t, err)

	_, err = mgr.Edit(id, []alias.Edit{{Original: "Alice", Placeholder: "PERSON_1", Include: true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, alias.ErrPlaceholderCollision)
	var ce *alias.CollisionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Alice Johnson", ce.Existing)

	after, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before.Entries, after.Entries)
	assert.Equal(t, int64(1), m.Snapshot().Masking.EditsRejected)
}

func TestManager_RedetectKeepsAliases(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "Alice")
	require.NoError(t, err)
	_, err = mgr.Edit(id, []alias.Edit{{Original: "Alice", Placeholder: "PERSON_5", Include: true}})
	require.NoError(t, err)
	_, err = mgr.Encode(id)
	require.NoError(t, err)

	res, err := mgr.Detect(context.Background(), id, "Alice and Alice Johnson in Berlin")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)

	v, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Empty(t, v.Encoded, "new detection clears encoded output")
	assert.True(t, v.Active, "earlier mapping stays usable for decoding")

	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "PERSON_5 and PERSON_2 in GPE_1", enc)
}

func TestManager_DecodeUsesMappingOfLastEncode(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "Alice wrote.")
	require.NoError(t, err)
	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	require.Equal(t, "PERSON_1 wrote.", enc)

	_, err = mgr.Edit(id, []alias.Edit{{Original: "Alice", Placeholder: "CLIENT", Include: true}})
	require.NoError(t, err)

	dec, warnings, err := mgr.Decode(id, "PERSON_1 replied.")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Alice replied.", dec)

	v, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Alice": "PERSON_1"}, v.Pairs)
	assert.Equal(t, "CLIENT", v.Entries[0].Placeholder)

	enc, err = mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "CLIENT wrote.", enc)

	dec, warnings, err = mgr.Decode(id, "CLIENT and PERSON_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice and PERSON_1", dec)
	require.Len(t, warnings, 1)
	assert.Equal(t, "PERSON_1", warnings[0].Placeholder)
}

func TestManager_PlainTextWithAngleBracketsRoundTrips(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	src := "Check if a <b and c> d, then email Alice.\n\n  Indented line"
	_, err := mgr.Detect(context.Background(), id, src)
	require.NoError(t, err)

	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "Check if a <b and c> d, then email PERSON_1.\n\n  Indented line", enc)

	dec, warnings, err := mgr.Decode(id, enc)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, src, dec)
}

func TestManager_DetectNotices(t *testing.T) {
	t.Run("no entities", func(t *testing.T) {
		mgr, _ := newManager(t, &fixedDetector{})
		id := mgr.Create().ID
		res, err := mgr.Detect(context.Background(), id, "nothing to see")
		require.NoError(t, err)
		assert.Equal(t, []string{NoticeNoEntities}, res.Notices)

		enc, err := mgr.Encode(id)
		require.NoError(t, err)
		assert.Equal(t, "nothing to see", enc)
	})

	t.Run("detector failure is a notice", func(t *testing.T) {
		d := &fixedDetector{terms: map[string]string{"Berlin": "GPE"}, err: errors.New("ner: model missing")}
		mgr, m := newManager(t, d)
		id := mgr.Create().ID
		res, err := mgr.Detect(context.Background(), id, "Berlin")
		require.NoError(t, err)
		require.Len(t, res.Notices, 1)
		assert.Contains(t, res.Notices[0], "model missing")
		assert.Len(t, res.Entries, 1)
		assert.Equal(t, int64(1), m.Snapshot().Detection.Errors)
	})
}

func TestManager_Errors(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	ctx := context.Background()

	_, err := mgr.Detect(ctx, id, " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = mgr.Encode(id)
	assert.ErrorIs(t, err, ErrNoSource)

	_, _, err = mgr.Decode(id, "PERSON_1")
	assert.ErrorIs(t, err, ErrNoActiveMapping)

	_, err = mgr.Detect(ctx, id, "Alice")
	require.NoError(t, err)
	_, _, err = mgr.Decode(id, "PERSON_1")
	assert.ErrorIs(t, err, ErrNoActiveMapping, "detect alone does not activate the mapping")

	_, _, err = mgr.Decode(id, "")
	assert.ErrorIs(t, err, ErrEmptyText)

	for _, call := range []func() error{
		func() error { _, err := mgr.Get("nope"); return err },
		func() error { _, err := mgr.Detect(ctx, "nope", "x"); return err },
		func() error { _, err := mgr.Edit("nope", nil); return err },
		func() error { _, err := mgr.Encode("nope"); return err },
		func() error { _, _, err := mgr.Decode("nope", "x"); return err },
		func() error { return mgr.Reset("nope") },
		func() error { return mgr.Delete("nope") },
	} {
		assert.ErrorIs(t, call(), ErrSessionNotFound)
	}
}

func TestManager_ResetAndDelete(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "Alice")
	require.NoError(t, err)
	_, err = mgr.Encode(id)
	require.NoError(t, err)

	require.NoError(t, mgr.Reset(id))
	v, err := mgr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
	assert.Empty(t, v.Source)
	assert.Empty(t, v.Entries)
	assert.False(t, v.Active)

	require.NoError(t, mgr.Delete(id))
	_, err = mgr.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	mgr, _ := newManager(t, people)
	a := mgr.Create().ID
	b := mgr.Create().ID
	require.NotEqual(t, a, b)

	_, err := mgr.Detect(context.Background(), a, "Berlin")
	require.NoError(t, err)
	_, err = mgr.Detect(context.Background(), b, "Alice")
	require.NoError(t, err)

	encA, err := mgr.Encode(a)
	require.NoError(t, err)
	encB, err := mgr.Encode(b)
	require.NoError(t, err)
	assert.Equal(t, "GPE_1", encA)
	assert.Equal(t, "PERSON_1", encB)
}

func TestManager_PreparesHTMLInput(t *testing.T) {
	mgr, _ := newManager(t, people)
	id := mgr.Create().ID
	_, err := mgr.Detect(context.Background(), id, "<p>Hello <b>Alice</b></p>")
	require.NoError(t, err)
	enc, err := mgr.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, "Hello PERSON_1", enc)
}

func TestManager_DetectText(t *testing.T) {
	mgr, _ := newManager(t, people)
	ms, notices, err := mgr.DetectText(context.Background(), "Alice Johnson")
	require.NoError(t, err)
	assert.Empty(t, notices)
	require.Len(t, ms, 1)
	assert.Equal(t, "Alice Johnson", ms[0].Text)

	_, _, err = mgr.DetectText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestManager_ConcurrentSessions(t *testing.T) {
	mgr, _ := newManager(t, people)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := mgr.Create().ID
			for j := 0; j < 20; j++ {
				_, err := mgr.Detect(context.Background(), id, fmt.Sprintf("Alice in Berlin %d", j))
				assert.NoError(t, err)
				enc, err := mgr.Encode(id)
				assert.NoError(t, err)
				out, _, err := mgr.Decode(id, enc)
				assert.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("Alice in Berlin %d", j), out)
			}
		}()
	}
	wg.Wait()
}

// ── Store ────────────────────────────────────────────────────────────────────

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	m := metrics.New()
	s := NewStore(2, 0, m)
	a := s.Create(alias.StyleNumeric)
	b := s.Create(alias.StyleNumeric)

	_, err := s.Get(a.ID) // a is now most recent
	require.NoError(t, err)

	c := s.Create(alias.StyleNumeric)
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(b.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(a.ID)
	assert.NoError(t, err)
	_, err = s.Get(c.ID)
	assert.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Sessions.Created)
	assert.Equal(t, int64(1), snap.Sessions.Evicted)
}

func TestStore_IdleTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(0, 10*time.Minute, nil)
	s.now = func() time.Time { return now }

	a := s.Create(alias.StyleNumeric)
	b := s.Create(alias.StyleNumeric)

	now = now.Add(6 * time.Minute)
	_, err := s.Get(b.ID) // keeps b alive
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	_, err = s.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(b.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Delete(t *testing.T) {
	s := NewStore(0, 0, nil)
	a := s.Create(alias.StyleLetter)
	assert.True(t, s.Delete(a.ID))
	assert.False(t, s.Delete(a.ID))
	_, err := s.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
