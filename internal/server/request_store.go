package server

import (
	"sync"
	"time"

	"github.com/straja-ai/liverstage/internal/activation"
)

// requestStore keeps recent prediction events so callers can look up a
// request by id after the fact. Ids are scoped per client.
type requestStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[requestKey]requestEntry
}

type requestKey struct {
	clientID  string
	requestID string
}

type requestEntry struct {
	variant    string
	clientID   string
	status     string
	activation *activation.Event
	expiresAt  time.Time
}

func newRequestStore(ttl time.Duration) *requestStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &requestStore{
		ttl:  ttl,
		data: make(map[requestKey]requestEntry),
	}
}

func (s *requestStore) Start(requestID, variant, clientID string) {
	if s == nil || requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	s.data[requestKey{clientID, requestID}] = requestEntry{
		variant:   variant,
		clientID:  clientID,
		status:    "pending",
		expiresAt: time.Now().Add(s.ttl),
	}
}

func (s *requestStore) Complete(requestID, clientID string, ev *activation.Event) {
	if s == nil || requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	key := requestKey{clientID, requestID}
	entry := requestEntry{
		clientID:   clientID,
		status:     "completed",
		activation: ev,
		expiresAt:  time.Now().Add(s.ttl),
	}
	if existing, ok := s.data[key]; ok {
		entry.variant = existing.variant
	} else if ev != nil {
		entry.variant = ev.Pipeline.Variant
	}
	s.data[key] = entry
}

func (s *requestStore) Get(requestID, clientID string) (requestEntry, bool) {
	if s == nil || requestID == "" {
		return requestEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	key := requestKey{clientID, requestID}
	entry, ok := s.data[key]
	if !ok {
		return requestEntry{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.data, key)
		return requestEntry{}, false
	}
	return entry, true
}

func (s *requestStore) cleanupLocked() {
	now := time.Now()
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
		}
	}
}
