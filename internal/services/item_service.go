// Package services – ItemService
//
// This file implements the ingestion pipeline for new items. The ordering is
// deliberate: validation happens before any side effect, the rate guard and
// the writes share one transaction, and jobs/events/audit run only after the
// transaction has committed. A request rejected at any stage therefore
// leaves no partial state behind.
//
// Rate limiting is two-layered. The sliding-window limiter is a cheap edge
// fast path; the authoritative guard is the in-transaction count of the
// user's items created inside the trailing window, which closes the N+1 race
// between concurrent requests. When the limiter store is down the pipeline
// logs and falls through to the in-transaction guard instead of failing the
// request.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/limiter"
)

var (
	itemsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "items_created_total",
		Help: "Items successfully created, by type.",
	}, []string{"type"})
	itemsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "items_rejected_total",
		Help: "Item creations rejected, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(itemsCreated, itemsRejected)
}

// ItemService owns the add-item pipeline and item reads.
type ItemService struct {
	Store Store

	// Limiter is the advisory edge limiter; nil disables the fast path and
	// leaves only the in-transaction guard.
	Limiter *limiter.Limiter
	Policy  limiter.Policy

	Events   EventBus
	Audit    AuditLog
	Enricher *Enricher

	// IdempotencyTTL bounds how long a replay key stays valid.
	IdempotencyTTL time.Duration

	Logger zerolog.Logger

	now func() time.Time
}

// NewItemService constructs an ItemService with the standard ingestion
// policy. lim may be nil.
func NewItemService(store Store, lim *limiter.Limiter) *ItemService {
	return &ItemService{
		Store:          store,
		Limiter:        lim,
		Policy:         limiter.PolicyItems,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         log.Logger,
		now:            time.Now,
	}
}

// Add runs the ingestion pipeline and returns the created item. When
// idemKey is non-empty and matches a previously processed request for the
// same user, the original item is returned with replayed=true and no side
// effects re-run.
func (s *ItemService) Add(ctx context.Context, in domain.NewItemInput, idemKey string) (item *domain.Item, replayed bool, err error) {
	tr := otel.Tracer("services/ItemService")
	ctx, span := tr.Start(ctx, "Add",
		trace.WithAttributes(
			attribute.String("user.id", string(in.UserID)),
			attribute.String("item.type", string(in.Type)),
		),
	)
	defer span.End()

	now := s.now().UTC()

	if idemKey != "" {
		if prior, ok := s.lookupReplay(ctx, in.UserID, idemKey, now); ok {
			return prior, true, nil
		}
	}

	// Validation first: a ValidationError here guarantees nothing was
	// persisted and no job was scheduled.
	item, err = domain.NewItem(in, now)
	if err != nil {
		itemsRejected.WithLabelValues("validation").Inc()
		return nil, false, err
	}

	// Advisory edge check. A down limiter store is tolerated because the
	// in-transaction count below is the real guard.
	if s.Limiter != nil {
		res, lerr := s.Limiter.Check(ctx, string(in.UserID), s.Policy)
		switch {
		case errors.Is(lerr, limiter.ErrStoreUnavailable):
			s.Logger.Warn().Err(lerr).Msg("limiter store down, relying on transactional guard")
		case lerr != nil:
			s.Logger.Warn().Err(lerr).Msg("limiter check failed")
		case !res.Allowed:
			itemsRejected.WithLabelValues("rate_limit").Inc()
			return nil, false, &domain.RateLimitError{
				Scope:      s.Policy.Scope,
				Limit:      s.Policy.MaxRequests,
				RetryAfter: res.RetryAfter(now),
			}
		}
	}

	err = s.Store.InTx(ctx, func(tx Store) error {
		user, gerr := tx.GetUser(ctx, in.UserID)
		if gerr != nil {
			return gerr
		}

		// Authoritative guard: counts committed rows plus rows created by
		// this transaction's view, so N concurrent requests cannot jointly
		// exceed the window limit.
		n, cerr := tx.CountItemsCreatedSince(ctx, in.UserID, now.Add(-s.Policy.Window))
		if cerr != nil {
			return cerr
		}
		if n >= int64(s.Policy.MaxRequests) {
			return &domain.RateLimitError{Scope: s.Policy.Scope, Limit: s.Policy.MaxRequests}
		}

		if cerr := tx.CreateItem(ctx, item); cerr != nil {
			return cerr
		}
		updated := user.WithItemAdded(item.Type, now)
		return tx.SaveUser(ctx, &updated)
	})
	if err != nil {
		var rle *domain.RateLimitError
		if errors.As(err, &rle) {
			itemsRejected.WithLabelValues("rate_limit").Inc()
		}
		return nil, false, err
	}

	itemsCreated.WithLabelValues(string(item.Type)).Inc()

	if idemKey != "" {
		s.storeReplay(ctx, in.UserID, idemKey, item.ID, now)
	}

	// Post-commit steps, in order: schedule enrichment, emit the event,
	// write the audit trail. Failures here are logged, never surfaced: the
	// item exists and the client must see success.
	s.Enricher.Schedule(item)

	if s.Events != nil {
		if perr := s.Events.Publish(ctx, Event{
			Name:   "item.added",
			UserID: item.UserID,
			ItemID: item.ID,
			At:     now,
			Fields: map[string]any{"type": string(item.Type)},
		}); perr != nil {
			s.Logger.Warn().Err(perr).Str("item_id", string(item.ID)).Msg("event publish failed")
		}
	}
	if s.Audit != nil {
		if aerr := s.Audit.Record(ctx, AuditEntry{
			Action:   "item.create",
			UserID:   item.UserID,
			Resource: string(item.ID),
			At:       now,
			Fields: map[string]any{
				"title": item.Title,
				"type":  string(item.Type),
			},
		}); aerr != nil {
			s.Logger.Warn().Err(aerr).Str("item_id", string(item.ID)).Msg("audit write failed")
		}
	}

	return item, false, nil
}

// Get fetches one of the user's items.
func (s *ItemService) Get(ctx context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error) {
	return s.Store.GetItem(ctx, userID, id)
}

// SetStatus transitions an item's reading status, stamping the read date on
// READ/SKIMMED.
func (s *ItemService) SetStatus(ctx context.Context, userID domain.UserID, id domain.ItemID, status domain.ItemStatus) (*domain.Item, error) {
	item, err := s.Store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	updated, err := item.WithStatus(status, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateItem(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetRating records a 1-5 rating on an item.
func (s *ItemService) SetRating(ctx context.Context, userID domain.UserID, id domain.ItemID, rating int) (*domain.Item, error) {
	item, err := s.Store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	updated, err := item.WithRating(rating, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateItem(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// lookupReplay resolves an idempotency key to the originally created item.
// Any lookup failure degrades to "no replay": creating twice under a broken
// idempotency store is worse than re-validating, but the transactional rate
// guard still bounds the damage.
func (s *ItemService) lookupReplay(ctx context.Context, userID domain.UserID, key string, now time.Time) (*domain.Item, bool) {
	rec, err := s.Store.GetIdempotency(ctx, userID, key)
	if err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			s.Logger.Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false
	}
	if now.After(rec.ExpiresAt) {
		return nil, false
	}
	item, err := s.Store.GetItem(ctx, userID, rec.ItemID)
	if err != nil {
		s.Logger.Warn().Err(err).Str("item_id", string(rec.ItemID)).Msg("idempotent replay target missing")
		return nil, false
	}
	return item, true
}

func (s *ItemService) storeReplay(ctx context.Context, userID domain.UserID, key string, itemID domain.ItemID, now time.Time) {
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Key:       key,
		ItemID:    itemID,
		Status:    201,
		ExpiresAt: now.Add(s.IdempotencyTTL),
	}
	if err := s.Store.PutIdempotency(ctx, rec); err != nil {
		// A ConflictError here means a concurrent request won the race; the
		// winner's record is the one future replays should resolve to.
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			s.Logger.Warn().Err(err).Msg("idempotency record write failed")
		}
	}
}
