// Package search – engine.
//
// Engine executes the full search pipeline: validate → cache probe →
// repository list → filter → match/score → order → cursor window →
// highlight → cache write. Repository errors propagate unmodified; cache
// failures are logged and never fail a search.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shelf-backend/internal/cache"
	"github.com/tbourn/go-shelf-backend/internal/domain"
)

// Query length bounds (runes). Queries outside these bounds are rejected
// before any repository access.
const (
	MinQueryLen = 2
	MaxQueryLen = 100
)

// SortMode selects the result ordering.
type SortMode string

const (
	SortRelevance SortMode = "RELEVANCE"  // score desc, addedAt desc, id asc
	SortDateAdded SortMode = "DATE_ADDED" // addedAt desc, id asc
	SortReadDate  SortMode = "READ_DATE"  // readDate desc (nulls last), id asc
)

// Filter is the typed AND-composed predicate set applied to a user's items.
// Nil pointer fields mean "no constraint". The repository applies the scalar
// predicates; the engine re-applies Tags (which live inside the metadata
// bag) so both repository implementations stay simple.
type Filter struct {
	Type          *domain.ItemType
	Status        *domain.ItemStatus
	MinRating     *int
	PublishedYear *int
	HasNotes      *bool
	Tags          []string
	ReadFrom      *time.Time // readDate >= ReadFrom
	ReadTo        *time.Time // readDate <= ReadTo
}

// Request carries one search invocation.
type Request struct {
	UserID domain.UserID
	Query  string
	Filter Filter
	SortBy SortMode // empty → SortRelevance
	Cursor string   // id of the last item of the previous page; empty → first page
	Limit  int      // 0 → engine default
}

// ResultItem is one row of a search response.
type ResultItem struct {
	ID             domain.ItemID   `json:"id"`
	Title          string          `json:"title"`
	Author         string          `json:"author,omitempty"`
	Type           domain.ItemType `json:"type"`
	AddedAt        time.Time       `json:"added_at"`
	ReadDate       *time.Time      `json:"read_date,omitempty"`
	Highlights     Highlights      `json:"highlights"`
	RelevanceScore float64         `json:"relevance_score"`
}

// Response is the full search result. CacheHit is set when the response was
// served from cache without touching the repository.
type Response struct {
	Items        []ResultItem `json:"items"`
	NextCursor   string       `json:"next_cursor,omitempty"`
	HasNextPage  bool         `json:"has_next_page"`
	TotalCount   int          `json:"total_count"`
	SearchTimeMS int64        `json:"search_time_ms"`

	CacheHit bool `json:"-"`
}

// Source lists a user's items with the scalar predicates of f applied.
// Implementations must return errors unmodified; the engine never masks a
// repository failure as an empty result.
type Source interface {
	ListItems(ctx context.Context, userID domain.UserID, f Filter) ([]domain.Item, error)
}

var (
	searchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "item_search_duration_seconds",
		Help:    "Latency of item searches (cache hits excluded).",
		Buckets: prometheus.DefBuckets,
	})
	searchCacheReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "item_search_cache_requests_total",
		Help: "Search cache probes by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(searchDuration, searchCacheReqs)
}

// Engine is the search and ranking engine. The zero value is not usable;
// construct with NewEngine. All tuning fields have sensible defaults and are
// product-tunable, not invariants.
type Engine struct {
	Source Source
	Cache  *cache.Layered // nil disables caching

	// Ranking weights
	WeightTitle  float64 // default 2.0
	WeightAuthor float64 // default 1.5
	BonusTitle   float64 // default 1.0, title contains the raw query verbatim
	BonusAuthor  float64 // default 0.5, author contains the raw query verbatim

	// Recency bonus: linear decay over RecencyWindow, capped at RecencyMax.
	RecencyMax    float64       // default 0.1
	RecencyWindow time.Duration // default 30 days

	SimilarityFloor float64       // default 0.1, trigram qualification cut-off
	SlowThreshold   time.Duration // default 500ms, warn-log threshold
	CacheTTL        time.Duration // default 5m
	DefaultLimit    int           // default 20
	MaxLimit        int           // default 50

	Logger zerolog.Logger

	now func() time.Time // test seam
}

// NewEngine constructs an Engine over source with default tuning. cache may
// be nil.
func NewEngine(source Source, c *cache.Layered) *Engine {
	return &Engine{
		Source:          source,
		Cache:           c,
		WeightTitle:     2.0,
		WeightAuthor:    1.5,
		BonusTitle:      1.0,
		BonusAuthor:     0.5,
		RecencyMax:      0.1,
		RecencyWindow:   30 * 24 * time.Hour,
		SimilarityFloor: 0.1,
		SlowThreshold:   500 * time.Millisecond,
		CacheTTL:        5 * time.Minute,
		DefaultLimit:    20,
		MaxLimit:        50,
		Logger:          log.Logger,
		now:             time.Now,
	}
}

// scored pairs an item with its relevance score for ordering.
type scored struct {
	item  domain.Item
	score float64
}

// Search runs the pipeline described in the package comment.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	started := e.now()

	query := strings.TrimSpace(req.Query)
	if n := utf8.RuneCountInString(query); n < MinQueryLen || n > MaxQueryLen {
		return nil, domain.NewValidationError("query",
			fmt.Sprintf("must be between %d and %d characters", MinQueryLen, MaxQueryLen))
	}
	limit := req.Limit
	if limit == 0 {
		limit = e.DefaultLimit
	}
	if limit < 1 || limit > e.MaxLimit {
		return nil, domain.NewValidationError("limit",
			fmt.Sprintf("must be between 1 and %d", e.MaxLimit))
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = SortRelevance
	}
	switch sortBy {
	case SortRelevance, SortDateAdded, SortReadDate:
	default:
		return nil, domain.NewValidationError("sortBy", fmt.Sprintf("unknown sort mode %q", string(sortBy)))
	}

	key := e.cacheKey(req.UserID, query, req.Filter, sortBy, req.Cursor, limit)
	if e.Cache != nil {
		raw, ok, err := e.Cache.Get(ctx, key)
		if err != nil {
			e.Logger.Warn().Err(err).Msg("search cache read failed")
		}
		if ok {
			var resp Response
			if uerr := json.Unmarshal([]byte(raw), &resp); uerr == nil {
				searchCacheReqs.WithLabelValues("hit").Inc()
				resp.CacheHit = true
				return &resp, nil
			}
			// Corrupt entry: fall through and recompute.
		}
		searchCacheReqs.WithLabelValues("miss").Inc()
	}

	items, err := e.Source.ListItems(ctx, req.UserID, req.Filter)
	if err != nil {
		return nil, err
	}

	matches := make([]scored, 0, len(items))
	for _, it := range items {
		if !it.HasTags(req.Filter.Tags) {
			continue
		}
		if !Matches(query, it.Title, e.SimilarityFloor) && !Matches(query, it.Author, e.SimilarityFloor) {
			continue
		}
		matches = append(matches, scored{item: it, score: e.relevance(query, it, started)})
	}

	e.order(matches, sortBy)

	total := len(matches)
	start := 0
	if req.Cursor != "" {
		idx := -1
		for i, m := range matches {
			if string(m.item.ID) == req.Cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, domain.NewValidationError("cursor", "does not reference an item in this result set")
		}
		start = idx + 1
	}

	// One extra row decides hasNextPage without a second pass.
	end := start + limit + 1
	if end > total {
		end = total
	}
	window := matches[start:end]
	hasNext := len(window) > limit
	if hasNext {
		window = window[:limit]
	}

	out := make([]ResultItem, len(window))
	for i, m := range window {
		it := m.item
		out[i] = ResultItem{
			ID:             it.ID,
			Title:          it.Title,
			Author:         it.Author,
			Type:           it.Type,
			AddedAt:        it.AddedAt,
			ReadDate:       it.ReadDate,
			Highlights:     highlightItem(it.Title, it.Author, it.Notes, query),
			RelevanceScore: m.score,
		}
	}

	nextCursor := ""
	if hasNext && len(out) > 0 {
		nextCursor = string(out[len(out)-1].ID)
	}

	elapsed := e.now().Sub(started)
	searchDuration.Observe(elapsed.Seconds())
	if elapsed > e.SlowThreshold {
		e.Logger.Warn().
			Str("user_id", string(req.UserID)).
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("slow search")
	}

	resp := &Response{
		Items:        out,
		NextCursor:   nextCursor,
		HasNextPage:  hasNext,
		TotalCount:   total,
		SearchTimeMS: elapsed.Milliseconds(),
	}

	// Cache write only after a successful search (an empty result is still a
	// success). Failures are observable, never fatal.
	if e.Cache != nil {
		if raw, merr := json.Marshal(resp); merr == nil {
			if serr := e.Cache.Set(ctx, key, string(raw), e.CacheTTL); serr != nil {
				e.Logger.Warn().Err(serr).Msg("search cache write failed")
			}
		}
	}
	return resp, nil
}

// relevance computes the weighted score for item against query.
func (e *Engine) relevance(query string, it domain.Item, now time.Time) float64 {
	score := e.WeightTitle*Similarity(query, it.Title) +
		e.WeightAuthor*Similarity(query, it.Author)

	q := fold(query)
	if strings.Contains(fold(it.Title), q) {
		score += e.BonusTitle
	}
	if it.Author != "" && strings.Contains(fold(it.Author), q) {
		score += e.BonusAuthor
	}

	if age := now.Sub(it.AddedAt); age >= 0 && age < e.RecencyWindow {
		score += e.RecencyMax * (1 - float64(age)/float64(e.RecencyWindow))
	}
	return score
}

// order sorts matches in place for the given mode. All modes end on id asc
// so the ordering is total and cursor pagination is stable.
func (e *Engine) order(matches []scored, mode SortMode) {
	switch mode {
	case SortDateAdded:
		sort.SliceStable(matches, func(a, b int) bool {
			if !matches[a].item.AddedAt.Equal(matches[b].item.AddedAt) {
				return matches[a].item.AddedAt.After(matches[b].item.AddedAt)
			}
			return matches[a].item.ID < matches[b].item.ID
		})
	case SortReadDate:
		sort.SliceStable(matches, func(a, b int) bool {
			ra, rb := matches[a].item.ReadDate, matches[b].item.ReadDate
			switch {
			case ra == nil && rb == nil:
				return matches[a].item.ID < matches[b].item.ID
			case ra == nil:
				return false // nulls last
			case rb == nil:
				return true
			case !ra.Equal(*rb):
				return ra.After(*rb)
			}
			return matches[a].item.ID < matches[b].item.ID
		})
	default: // SortRelevance
		sort.SliceStable(matches, func(a, b int) bool {
			if matches[a].score != matches[b].score {
				return matches[a].score > matches[b].score
			}
			if !matches[a].item.AddedAt.Equal(matches[b].item.AddedAt) {
				return matches[a].item.AddedAt.After(matches[b].item.AddedAt)
			}
			return matches[a].item.ID < matches[b].item.ID
		})
	}
}

// cacheKey encodes every request dimension deterministically. Tags are
// sorted because the filter is a set (AND semantics, order-free).
func (e *Engine) cacheKey(userID domain.UserID, query string, f Filter, sortBy SortMode, cursor string, limit int) string {
	tags := append([]string(nil), f.Tags...)
	sort.Strings(tags)

	parts := []string{
		string(userID),
		fold(query),
		string(sortBy),
		cursor,
		strconv.Itoa(limit),
		strPtr((*string)(f.Type)),
		strPtr((*string)(f.Status)),
		intPtr(f.MinRating),
		intPtr(f.PublishedYear),
		boolPtr(f.HasNotes),
		strings.Join(tags, ","),
		timePtr(f.ReadFrom),
		timePtr(f.ReadTo),
	}
	return cache.Key("search", parts...)
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intPtr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func boolPtr(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}

func timePtr(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.UTC().Format(time.RFC3339Nano)
}
