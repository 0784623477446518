// Package limiter – in-process store.
package limiter

import (
	"context"
	"sync"
	"time"
)

// entry holds the recorded hits for one key and the last time it was seen,
// used to opportunistically evict idle keys.
type entry struct {
	hits     []time.Time
	lastSeen time.Time
}

// MemoryStore is a process-local Store. A single mutex serializes Take per
// process, which makes the remove/count/record sequence trivially atomic.
// Idle keys are evicted after a TTL via opportunistic cleanup during lookups
// to keep memory usage bounded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl      time.Duration
	cleanupN uint64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		ttl:     10 * time.Minute, // evict idle keys after TTL
	}
}

// Take implements Store. It prunes hits older than window, counts the rest,
// and records now only when the count is below max.
func (s *MemoryStore) Take(_ context.Context, key string, window time.Duration, max int, now time.Time) (TakeResult, error) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistic cleanup after a threshold of lookups, then reset the
	// counter. Runs before touching the requested key so an idle entry can
	// be evicted even when it is the one being fetched.
	s.cleanupN++
	if s.cleanupN >= 5000 {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) >= s.ttl {
				delete(s.entries, k)
			}
		}
		s.cleanupN = 0
	}

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.lastSeen = now

	// Drop expired hits in place.
	kept := e.hits[:0]
	for _, t := range e.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.hits = kept

	allowed := len(e.hits) < max
	if allowed {
		e.hits = append(e.hits, now)
	}

	oldest := now
	if len(e.hits) > 0 {
		oldest = e.hits[0]
	}
	return TakeResult{Allowed: allowed, Count: len(e.hits), Oldest: oldest}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
