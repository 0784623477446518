// Package limiter implements a sliding-window request counter keyed by
// (scope, identifier). Unlike a token bucket, a sliding window can report
// exactly how many hits were recorded, how many remain, and when the window
// resets, which is what the API contract requires.
//
// The counting itself is delegated to a Store, which must implement the
// remove-expired / count / conditionally-record sequence atomically:
//
//   - MemoryStore: process-local, a mutex around per-key timestamp slices
//     with opportunistic GC of idle keys (bounded memory).
//   - RedisStore: shared across instances, a Lua script executed in a single
//     round trip so concurrent callers cannot race between the count and the
//     write.
//
// Failure semantics: when the store is unreachable the limiter never fails
// open silently and never blocks; it returns an error wrapping
// ErrStoreUnavailable so the caller can choose to reject (default posture)
// or to tolerate when a second, authoritative guard exists downstream.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable marks limiter-store failures so callers can
// distinguish "limit exceeded" from "limiter broken".
var ErrStoreUnavailable = errors.New("limiter store unavailable")

// Policy is one window/limit pair attached to a scope prefix. Keys are
// namespaced as "<scope>:<identifier>", so distinct scopes never collide.
type Policy struct {
	Scope       string        // e.g. "items"
	Window      time.Duration // sliding window length
	MaxRequests int           // maximum hits inside the window
}

// The standard policy table. Limits are the defaults from the product spec;
// deployments override them through config and construct their own Policy
// values.
var (
	PolicyUser  = Policy{Scope: "user", Window: time.Minute, MaxRequests: 100}
	PolicyIP    = Policy{Scope: "ip", Window: time.Minute, MaxRequests: 10}
	PolicyItems = Policy{Scope: "items", Window: time.Minute, MaxRequests: 10}
	PolicyOTP   = Policy{Scope: "otp", Window: time.Hour, MaxRequests: 3}
	PolicyMagic = Policy{Scope: "magic", Window: time.Minute, MaxRequests: 5}
)

// Result reports the outcome of a Check call.
type Result struct {
	Allowed   bool      // whether this request was admitted (and recorded)
	Remaining int       // admissions left in the current window
	ResetTime time.Time // when the oldest recorded hit leaves the window
	TotalHits int       // hits currently recorded, including this one if allowed
}

// RetryAfter returns a non-negative duration until the window frees up.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TakeResult is the raw outcome of an atomic store operation.
type TakeResult struct {
	Allowed bool      // whether the hit was recorded
	Count   int       // hits in the window after the operation
	Oldest  time.Time // timestamp of the oldest hit still in the window
}

// Store is the atomic counting backend. Take must, in one atomic step,
// drop entries older than window, count the remainder, and record the
// request only when the count is below max.
type Store interface {
	Take(ctx context.Context, key string, window time.Duration, max int, now time.Time) (TakeResult, error)
	Reset(ctx context.Context, key string) error
}

// Limiter applies Policies against a Store. Safe for concurrent use as long
// as the Store is.
type Limiter struct {
	store Store
}

// New constructs a Limiter over the given store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check atomically records a hit for identifier under p if the window has
// capacity, and reports the decision. A returned error always wraps
// ErrStoreUnavailable; in that case no hit was recorded and Result is zero.
func (l *Limiter) Check(ctx context.Context, identifier string, p Policy) (Result, error) {
	tr, err := l.store.Take(ctx, p.key(identifier), p.Window, p.MaxRequests, time.Now())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	remaining := p.MaxRequests - tr.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := tr.Oldest.Add(p.Window)
	return Result{
		Allowed:   tr.Allowed,
		Remaining: remaining,
		ResetTime: reset,
		TotalHits: tr.Count,
	}, nil
}

// Reset clears all recorded hits for identifier under p immediately.
func (l *Limiter) Reset(ctx context.Context, identifier string, p Policy) error {
	if err := l.store.Reset(ctx, p.key(identifier)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p Policy) key(identifier string) string {
	return p.Scope + ":" + identifier
}
