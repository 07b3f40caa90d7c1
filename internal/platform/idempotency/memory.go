package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory. Used when Firestore is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if e, ok := s.entries[id]; ok && now.Before(e.ExpiresAt) {
		outcome, err := classify(e, fingerprint)
		return outcome, e, err
	}
	e := newEntry(key, fingerprint, now, ttl)
	s.entries[id] = e
	return OutcomeFresh, e, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	e, ok := s.entries[id]
	if !ok {
		e = newEntry(key, fingerprint, now, ttl)
	} else if e.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	s.entries[id] = completeEntry(e, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, documentID(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
