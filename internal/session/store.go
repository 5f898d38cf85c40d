package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/metrics"
)

// Store holds sessions in memory with a capacity bound and an idle TTL.
// Both limits are enforced lazily when the store is touched; there is no
// background sweeper.
type Store struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewStore returns a store. capacity <= 0 means unbounded and ttl <= 0 means
// sessions never expire. m may be nil.
func NewStore(capacity int, ttl time.Duration, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.New()
	}
	return &Store{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		metrics:  m,
		now:      time.Now,
	}
}

// Create starts an empty session and returns it.
func (s *Store) Create(style alias.Style) *Session {
	now := s.now()
	sess := &Session{
		ID:      uuid.NewString(),
		Created: now,
		style:   style,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	for s.capacity > 0 && s.order.Len() >= s.capacity {
		s.removeLocked(s.order.Back())
	}
	sess.lastUsed = now
	s.items[sess.ID] = s.order.PushFront(sess)
	s.metrics.SessionsCreated.Add(1)
	return sess
}

// Get returns the session and marks it used. Unknown and expired IDs both
// yield ErrSessionNotFound.
func (s *Store) Get(id string) (*Session, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := el.Value.(*Session)
	if s.expired(sess, now) {
		s.removeLocked(el)
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = now
	s.order.MoveToFront(el)
	return sess, nil
}

// Delete removes a session. It reports whether the ID was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[id]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.items, id)
	return true
}

// Len returns the number of live sessions, expired ones excluded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())
	return s.order.Len()
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.lastUsed) > s.ttl
}

// expireLocked drops idle sessions from the back of the list. The list is in
// use order, so the scan stops at the first live session.
// Caller must hold s.mu.
func (s *Store) expireLocked(now time.Time) {
	for el := s.order.Back(); el != nil; el = s.order.Back() {
		if !s.expired(el.Value.(*Session), now) {
			return
		}
		s.removeLocked(el)
	}
}

// removeLocked evicts one session. Caller must hold s.mu.
func (s *Store) removeLocked(el *list.Element) {
	sess := s.order.Remove(el).(*Session)
	delete(s.items, sess.ID)
	s.metrics.SessionsEvicted.Add(1)
}
