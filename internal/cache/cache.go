// Package cache provides a small layered cache used by the search engine:
// a process-local TTL map fronting an optional shared backend (Redis).
// The cache is never authoritative; entries expire, reads may miss, and a
// failed write must never fail the operation that produced the value.
// Last-write-wins is acceptable between concurrent writers.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Backend is a minimal get/set contract with TTL. Get reports (value, hit).
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Key builds a deterministic cache key from its parts. The parts are joined
// with an unlikely separator and hashed (xxhash, hex) so that arbitrary user
// input can never produce key collisions by embedding separators, and keys
// stay short regardless of query length.
func Key(prefix string, parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		h.WriteString(p)
		h.WriteString("\x1f")
	}
	return prefix + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// ---------------------------------------------------------------------------
// Process-local backend

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Backend: a mutex-guarded map with per-entry TTL
// and opportunistic eviction of expired entries during writes.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	writes  uint64
}

// NewMemory constructs an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

// Get implements Backend. Expired entries count as misses and are dropped.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if now.After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Backend. Every ~1000 writes the expired entries are swept
// so an idle key set cannot grow without bound.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.writes >= 1000 {
		for k, e := range m.entries {
			if now.After(e.expiresAt) {
				delete(m.entries, k)
			}
		}
		m.writes = 0
	}

	m.entries[key] = memEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// ---------------------------------------------------------------------------
// Layered cache

// Layered reads through a local backend into an optional shared one, and
// writes to both. A nil shared backend degrades to local-only operation.
type Layered struct {
	Local  Backend
	Shared Backend // may be nil
}

// NewLayered builds a Layered cache; shared may be nil.
func NewLayered(local, shared Backend) *Layered {
	return &Layered{Local: local, Shared: shared}
}

// Get returns the value for key from the closest layer that has it, warming
// the local layer on a shared-layer hit. Local errors are swallowed in favor
// of the shared layer; a shared-layer error is reported as a miss with error
// so the caller can log it and recompute.
func (l *Layered) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok, err := l.Local.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	if l.Shared == nil {
		return "", false, nil
	}
	v, ok, err := l.Shared.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	// Warm the local layer; the residual TTL is unknown here, so a short
	// horizon keeps staleness bounded.
	_ = l.Local.Set(ctx, key, v, 30*time.Second)
	return v, true, nil
}

// Set writes to both layers. The returned error aggregates layer failures;
// callers treat it as an operational signal, never as an operation failure.
func (l *Layered) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var errs []string
	if err := l.Local.Set(ctx, key, value, ttl); err != nil {
		errs = append(errs, "local: "+err.Error())
	}
	if l.Shared != nil {
		if err := l.Shared.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, "shared: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return &writeError{msg: strings.Join(errs, "; ")}
	}
	return nil
}

type writeError struct{ msg string }

func (e *writeError) Error() string { return "cache write: " + e.msg }
