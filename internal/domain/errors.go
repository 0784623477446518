// Package domain – error taxonomy.
//
// This file centralizes the typed errors shared by services, repositories,
// and the HTTP layer. Each type maps to a stable machine-readable code at the
// transport boundary:
//
//   - ValidationError    → 400 (bad input shape/format; never reported/alerted)
//   - RateLimitError     → 429 (carries a Retry-After hint)
//   - NotFoundError      → 404
//   - ConflictError      → 409 (uniqueness violations)
//   - AuthorizationError → 403
//   - ProviderAPIError   → 502 (external dependency failure; should be alerted)
//
// Services return these via errors.As-friendly pointers so handlers can
// translate without string matching.
package domain

import (
	"fmt"
	"time"
)

// ValidationError indicates that caller-supplied input failed a shape or
// format rule before any side effect occurred.
type ValidationError struct {
	Field  string // offending field, e.g. "isbn"
	Reason string // human-readable reason, safe to show to users
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field with a reason.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError indicates that a request was rejected by a rate-limit
// policy. RetryAfter is a hint for when the caller may retry.
type RateLimitError struct {
	Scope      string        // policy scope, e.g. "items"
	Limit      int           // configured maximum for the window
	RetryAfter time.Duration // non-negative hint; zero means "unknown"
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d)", e.Scope, e.Limit)
}

// NotFoundError indicates that a referenced entity does not exist or is not
// visible to the caller.
type NotFoundError struct {
	Resource string // e.g. "item", "user"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConflictError indicates a uniqueness violation (e.g. username collision).
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

// AuthorizationError indicates the caller is authenticated but not permitted
// to perform the operation.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "forbidden: " + e.Reason
}

// ProviderAPIError wraps a failure from an external collaborator (cache
// backend, limiter store, enrichment runner). Unlike the 4xx-class errors it
// is operationally significant and should be surfaced to alerting.
type ProviderAPIError struct {
	Provider string // e.g. "redis", "enrichment"
	Err      error
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *ProviderAPIError) Unwrap() error { return e.Err }
