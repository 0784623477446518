// Package services – outbound collaborator contracts.
//
// The ingestion pipeline and the streak batch talk to an event bus, an audit
// log, and an analytics sink. All three are narrow interfaces injected at
// construction time; the zerolog-backed implementations below are the
// defaults for single-node deployments and keep the pipeline observable
// without an external broker.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-shelf-backend/internal/domain"
)

// Event is a domain event emitted after a state change has committed.
type Event struct {
	Name   string // e.g. "item.added"
	UserID domain.UserID
	ItemID domain.ItemID
	At     time.Time
	Fields map[string]any
}

// EventBus publishes domain events to downstream consumers (feed fan-out,
// notifications). Publish happens post-commit, so implementations must not
// assume the caller will retry.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
}

// AuditEntry is one line of the compliance trail. Fields carries the
// resource attributes worth keeping (for item creation: title and type).
type AuditEntry struct {
	Action   string // e.g. "item.create"
	UserID   domain.UserID
	Resource string
	At       time.Time
	Fields   map[string]any
}

// AuditLog records compliance-relevant actions. A failing audit write is
// logged and never fails the user-facing operation.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Analytics tracks product events (milestones, feature usage).
type Analytics interface {
	Track(ctx context.Context, userID domain.UserID, event string, props map[string]any) error
}

// LogEventBus writes events as structured log lines.
type LogEventBus struct {
	Logger zerolog.Logger
}

// Publish implements EventBus.
func (b *LogEventBus) Publish(_ context.Context, ev Event) error {
	b.Logger.Info().
		Str("event", ev.Name).
		Str("user_id", string(ev.UserID)).
		Str("item_id", string(ev.ItemID)).
		Time("at", ev.At).
		Fields(ev.Fields).
		Msg("domain event")
	return nil
}

// LogAuditLog writes audit entries as structured log lines.
type LogAuditLog struct {
	Logger zerolog.Logger
}

// Record implements AuditLog.
func (a *LogAuditLog) Record(_ context.Context, entry AuditEntry) error {
	a.Logger.Info().
		Str("action", entry.Action).
		Str("user_id", string(entry.UserID)).
		Str("resource", entry.Resource).
		Time("at", entry.At).
		Fields(entry.Fields).
		Msg("audit")
	return nil
}

// LogAnalytics writes analytics events as structured log lines.
type LogAnalytics struct {
	Logger zerolog.Logger
}

// Track implements Analytics.
func (a *LogAnalytics) Track(_ context.Context, userID domain.UserID, event string, props map[string]any) error {
	a.Logger.Info().
		Str("user_id", string(userID)).
		Str("event", event).
		Fields(props).
		Msg("analytics")
	return nil
}
