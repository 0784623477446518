// Package services – metadata enrichment.
//
// After an item is created, a single background job looks up external
// metadata (author, publication year, cover image) keyed by the strongest
// identifier the item carries: ISBN over DOI over URL. The provider call is
// wrapped with a per-call timeout, client-side pacing, and a failure-count
// circuit breaker so a slow or dead provider can never back up ingestion.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-shelf-backend/internal/domain"
)

// RefKind identifies which item identifier an enrichment lookup uses.
type RefKind string

const (
	RefISBN RefKind = "isbn"
	RefDOI  RefKind = "doi"
	RefURL  RefKind = "url"
)

// EnrichmentRef is the lookup key passed to a provider.
type EnrichmentRef struct {
	Kind  RefKind
	Value string
}

// EnrichmentResult carries provider metadata. Zero-valued fields mean the
// provider had nothing for them.
type EnrichmentResult struct {
	Author        string
	PublishedYear int
	CoverImage    string
}

// EnrichmentProvider resolves a reference to external metadata. Returning a
// nil result with a nil error means "nothing found", which is not a failure.
type EnrichmentProvider interface {
	Lookup(ctx context.Context, ref EnrichmentRef) (*EnrichmentResult, error)
}

// ErrCircuitOpen is returned while the breaker is cooling down after
// consecutive provider failures.
var ErrCircuitOpen = errors.New("enrichment circuit open")

// Enricher runs enrichment jobs against a provider with pacing, timeout, and
// a circuit breaker. Construct with NewEnricher.
type Enricher struct {
	Store    Store
	Provider EnrichmentProvider
	Logger   zerolog.Logger

	// Timeout bounds one provider call.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker for Cooldown.
	FailureThreshold int
	Cooldown         time.Duration

	pacer *rate.Limiter

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	now func() time.Time
}

// NewEnricher constructs an Enricher with default tuning: 5s call timeout,
// 5 requests/second pacing, breaker opening after 5 consecutive failures for
// a 30 second cooldown.
func NewEnricher(store Store, provider EnrichmentProvider, logger zerolog.Logger) *Enricher {
	return &Enricher{
		Store:            store,
		Provider:         provider,
		Logger:           logger,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		pacer:            rate.NewLimiter(rate.Limit(5), 5),
		now:              time.Now,
	}
}

// refFor picks the strongest identifier the item carries, or ok=false when
// the item has none and no job should be scheduled.
func refFor(item *domain.Item) (EnrichmentRef, bool) {
	switch {
	case item.ISBN != "":
		return EnrichmentRef{Kind: RefISBN, Value: item.ISBN}, true
	case item.DOI != "":
		return EnrichmentRef{Kind: RefDOI, Value: item.DOI}, true
	case item.URL != "":
		return EnrichmentRef{Kind: RefURL, Value: item.URL}, true
	}
	return EnrichmentRef{}, false
}

// Schedule fires one enrichment job for the item in the background. It is a
// no-op when the item has no external identifier or no provider is wired.
func (e *Enricher) Schedule(item *domain.Item) {
	if e == nil || e.Provider == nil {
		return
	}
	ref, ok := refFor(item)
	if !ok {
		return
	}
	go func() {
		// Detached from the request context: the job outlives the HTTP call.
		if err := e.Enrich(context.Background(), item.UserID, item.ID, ref); err != nil {
			e.Logger.Warn().Err(err).
				Str("item_id", string(item.ID)).
				Str("ref_kind", string(ref.Kind)).
				Msg("enrichment failed")
		}
	}()
}

// Enrich performs one lookup and merges the result into the item. Provider
// failures count toward the breaker and come back as *domain.ProviderAPIError.
func (e *Enricher) Enrich(ctx context.Context, userID domain.UserID, itemID domain.ItemID, ref EnrichmentRef) error {
	if err := e.admit(); err != nil {
		return err
	}
	if err := e.pacer.Wait(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	res, err := e.Provider.Lookup(cctx, ref)
	if err != nil {
		e.recordFailure()
		return &domain.ProviderAPIError{Provider: "enrichment", Err: err}
	}
	e.recordSuccess()
	if res == nil {
		return nil
	}

	item, err := e.Store.GetItem(ctx, userID, itemID)
	if err != nil {
		return err
	}
	merged := mergeEnrichment(*item, res, e.now())
	return e.Store.UpdateItem(ctx, &merged)
}

// mergeEnrichment fills only the fields the user left empty; user-supplied
// data always wins over provider data.
func mergeEnrichment(item domain.Item, res *EnrichmentResult, now time.Time) domain.Item {
	if item.Author == "" && res.Author != "" {
		item.Author = strings.TrimSpace(res.Author)
	}
	if item.PublishedYear == nil && res.PublishedYear != 0 {
		y := res.PublishedYear
		item.PublishedYear = &y
	}
	if item.CoverImage == "" && res.CoverImage != "" {
		item.CoverImage = res.CoverImage
	}
	item.UpdatedAt = now.UTC()
	return item
}

func (e *Enricher) admit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.now().Before(e.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

func (e *Enricher) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures >= e.FailureThreshold {
		e.openUntil = e.now().Add(e.Cooldown)
		e.failures = 0
	}
}

func (e *Enricher) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
}
