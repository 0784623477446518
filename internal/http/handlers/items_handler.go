// Item HTTP handlers.
//
// This file exposes REST endpoints for the reading-profile API:
//   - POST   /items                         (create, idempotent via Idempotency-Key)
//   - GET    /items/search                  (fuzzy search, cursor-paginated)
//   - GET    /items/{id}                    (fetch one)
//   - PUT    /items/{id}/status             (reading-status transition)
//   - PUT    /items/{id}/rating             (rate 1-5)
//   - POST   /internal/streaks/recompute    (ops: run the nightly batch now)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Domain errors arrive typed and
// are mapped to stable machine-readable codes in errors.go.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
	"github.com/tbourn/go-shelf-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ItemService defines the item lifecycle operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type ItemService interface {
	// Add runs the ingestion pipeline; replayed reports an idempotent retry.
	Add(ctx context.Context, in domain.NewItemInput, idemKey string) (item *domain.Item, replayed bool, err error)
	// Get fetches one of the user's items.
	Get(ctx context.Context, userID domain.UserID, id domain.ItemID) (*domain.Item, error)
	// SetStatus transitions the reading status.
	SetStatus(ctx context.Context, userID domain.UserID, id domain.ItemID, status domain.ItemStatus) (*domain.Item, error)
	// SetRating records a 1-5 rating.
	SetRating(ctx context.Context, userID domain.UserID, id domain.ItemID, rating int) (*domain.Item, error)
}

// SearchService runs one search request through the engine.
type SearchService interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// StreakService triggers the nightly batch on demand. A non-empty userIDs
// limits the run to those users; nil recomputes everyone.
type StreakService interface {
	Recompute(ctx context.Context, asOf time.Time, userIDs []domain.UserID) (*services.StreakReport, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for items, search, and the streak batch.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	items   ItemService
	search  SearchService
	streaks StreakService
}

// New constructs a Handlers instance bound to the given services.
func New(items ItemService, searchSvc SearchService, streaks StreakService) *Handlers {
	return &Handlers{items: items, search: searchSvc, streaks: streaks}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) domain.UserID {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return domain.UserID(s)
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return domain.UserID(h)
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateItemRequest is the JSON payload for adding an item.
type CreateItemRequest struct {
	// Type is one of BOOK, PAPER, ARTICLE.
	Type string `json:"type" binding:"required" example:"BOOK"`
	// Title is required, 1-500 characters.
	Title string `json:"title" binding:"required" example:"The Go Programming Language"`
	// Author is optional, up to 200 characters.
	Author string `json:"author,omitempty" example:"Alan A. A. Donovan"`
	// URL must be absolute http(s) when present.
	URL string `json:"url,omitempty" example:"https://gopl.io"`
	// ISBN accepts ISBN-10 or ISBN-13, hyphens and spaces allowed.
	ISBN string `json:"isbn,omitempty" example:"978-0-13-419044-0"`
	// DOI is validated against the 10.xxxx/suffix shape.
	DOI string `json:"doi,omitempty" example:"10.1145/3368089.3409743"`
	// Notes is free text up to 5000 characters.
	Notes string `json:"notes,omitempty"`
	// Metadata is an open bag; {"tags": [...]} feeds the tag filter.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateItemStatusRequest is the JSON payload for a status transition.
type UpdateItemStatusRequest struct {
	Status string `json:"status" binding:"required" example:"READ"`
}

// RateItemRequest is the JSON payload for rating an item.
type RateItemRequest struct {
	Rating int `json:"rating" binding:"required" example:"5"`
}

// RecomputeStreaksRequest is the optional JSON payload for the streak batch
// trigger. An empty or absent user_ids recomputes every user.
type RecomputeStreaksRequest struct {
	UserIDs []string `json:"user_ids,omitempty"`
}

//
// Handlers
//

// CreateItem godoc
// @ID          createItem
// @Summary     Add an item to the collection
// @Description Validates the payload, enforces the ingestion rate limit, and creates the item atomically with the owner's counters. Supply an Idempotency-Key header to make retries safe.
// @Tags        Items
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       Idempotency-Key  header  string  false "Client retry key"
// @Param       body             body    handlers.CreateItemRequest true "Create item payload"
// @Success     201 {object} domain.Item
// @Success     200 {object} domain.Item "Idempotent replay"
// @Failure     400 {object} handlers.ErrorResponse "Validation failed"
// @Failure     429 {object} handlers.ErrorResponse "Ingestion rate limit"
// @Router      /items [post]
func (h *Handlers) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	in := domain.NewItemInput{
		UserID:   userID(c),
		Type:     domain.ItemType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Title:    req.Title,
		Author:   req.Author,
		URL:      req.URL,
		ISBN:     req.ISBN,
		DOI:      req.DOI,
		Notes:    req.Notes,
		Metadata: req.Metadata,
	}
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	item, replayed, err := h.items.Add(c.Request.Context(), in, idemKey)
	if err != nil {
		failDomain(c, err, ErrCodeCreateFailed)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		c.Header("Idempotent-Replay", "true")
	}
	ok(c, status, item)
}

// SearchItems godoc
// @ID          searchItems
// @Summary     Search the user's collection
// @Description Fuzzy multi-field search over titles and authors with typed filters, configurable sorting, and cursor pagination.
// @Tags        Items
// @Produce     json
// @Param       X-User-ID  header string false "User ID (demo header)"
// @Param       q          query  string true  "Query, 2-100 characters"
// @Param       type       query  string false "BOOK | PAPER | ARTICLE"
// @Param       status     query  string false "WANT_TO_READ | READING | READ | SKIMMED"
// @Param       min_rating query  int    false "Minimum rating 1-5"
// @Param       year       query  int    false "Publication year"
// @Param       has_notes  query  bool   false "Only items with (or without) notes"
// @Param       tags       query  string false "Comma-separated tags, AND semantics"
// @Param       read_from  query  string false "read_date lower bound (RFC 3339 or YYYY-MM-DD)"
// @Param       read_to    query  string false "read_date upper bound"
// @Param       sort       query  string false "RELEVANCE | DATE_ADDED | READ_DATE"
// @Param       cursor     query  string false "Opaque cursor from the previous page"
// @Param       limit      query  int    false "Page size, 1-50" default(20)
// @Success     200 {object} search.Response
// @Failure     400 {object} handlers.ErrorResponse "Invalid query, filter, or cursor"
// @Router      /items/search [get]
func (h *Handlers) SearchItems(c *gin.Context) {
	req, perr := parseSearchRequest(c)
	if perr != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, perr.Error())
		return
	}

	resp, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		failDomain(c, err, ErrCodeSearchFailed)
		return
	}
	if resp.CacheHit {
		c.Header("X-Cache", "HIT")
	}
	ok(c, http.StatusOK, resp)
}

// parseSearchRequest translates query-string parameters into a typed search
// request. Enum and time parameters that fail to parse are rejected here;
// length/range validation belongs to the engine.
func parseSearchRequest(c *gin.Context) (search.Request, error) {
	req := search.Request{
		UserID: userID(c),
		Query:  c.Query("q"),
		Cursor: c.Query("cursor"),
		Limit:  utils.AtoiDefault(c.Query("limit"), 0),
		SortBy: search.SortMode(strings.ToUpper(strings.TrimSpace(c.Query("sort")))),
	}

	if v := strings.TrimSpace(c.Query("type")); v != "" {
		t := domain.ItemType(strings.ToUpper(v))
		if !t.Valid() {
			return req, domain.NewValidationError("type", "unknown item type")
		}
		req.Filter.Type = &t
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		s := domain.ItemStatus(strings.ToUpper(v))
		if !s.Valid() {
			return req, domain.NewValidationError("status", "unknown status")
		}
		req.Filter.Status = &s
	}
	if v := c.Query("min_rating"); v != "" {
		n := utils.AtoiDefault(v, -1)
		if n < domain.MinRating || n > domain.MaxRating {
			return req, domain.NewValidationError("min_rating", "must be between 1 and 5")
		}
		req.Filter.MinRating = &n
	}
	if v := c.Query("year"); v != "" {
		n := utils.AtoiDefault(v, -1)
		if n < 0 {
			return req, domain.NewValidationError("year", "must be a year")
		}
		req.Filter.PublishedYear = &n
	}
	if v := c.Query("has_notes"); v != "" {
		b, valid := utils.ParseBool(v)
		if !valid {
			return req, domain.NewValidationError("has_notes", "must be a boolean")
		}
		req.Filter.HasNotes = &b
	}
	req.Filter.Tags = utils.SplitCSV(c.Query("tags"))
	if v := c.Query("read_from"); v != "" {
		t, valid := utils.ParseTime(v)
		if !valid {
			return req, domain.NewValidationError("read_from", "must be RFC 3339 or YYYY-MM-DD")
		}
		req.Filter.ReadFrom = &t
	}
	if v := c.Query("read_to"); v != "" {
		t, valid := utils.ParseTime(v)
		if !valid {
			return req, domain.NewValidationError("read_to", "must be RFC 3339 or YYYY-MM-DD")
		}
		req.Filter.ReadTo = &t
	}
	return req, nil
}

// GetItem godoc
// @ID          getItem
// @Summary     Fetch one item
// @Tags        Items
// @Produce     json
// @Param       X-User-ID header string false "User ID (demo header)"
// @Param       id        path   string true  "Item ID (UUID)" format(uuid)
// @Success     200 {object} domain.Item
// @Failure     404 {object} handlers.ErrorResponse "Item not found"
// @Router      /items/{id} [get]
func (h *Handlers) GetItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	item, err := h.items.Get(c.Request.Context(), userID(c), domain.ItemID(id))
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, item)
}

// UpdateItemStatus godoc
// @ID          updateItemStatus
// @Summary     Transition an item's reading status
// @Description Moving to READ or SKIMMED stamps the read date when absent.
// @Tags        Items
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID (demo header)"
// @Param       id        path   string true "Item ID (UUID)" format(uuid)
// @Param       body      body   handlers.UpdateItemStatusRequest true "New status"
// @Success     200 {object} domain.Item
// @Failure     400 {object} handlers.ErrorResponse "Unknown status"
// @Failure     404 {object} handlers.ErrorResponse "Item not found"
// @Router      /items/{id}/status [put]
func (h *Handlers) UpdateItemStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	var req UpdateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	status := domain.ItemStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	item, err := h.items.SetStatus(c.Request.Context(), userID(c), domain.ItemID(id), status)
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, item)
}

// RateItem godoc
// @ID          rateItem
// @Summary     Rate an item 1-5
// @Tags        Items
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID (demo header)"
// @Param       id        path   string true "Item ID (UUID)" format(uuid)
// @Param       body      body   handlers.RateItemRequest true "Rating"
// @Success     200 {object} domain.Item
// @Failure     400 {object} handlers.ErrorResponse "Rating out of range"
// @Failure     404 {object} handlers.ErrorResponse "Item not found"
// @Router      /items/{id}/rating [put]
func (h *Handlers) RateItem(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}
	var req RateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rating required")
		return
	}
	item, err := h.items.SetRating(c.Request.Context(), userID(c), domain.ItemID(id), req.Rating)
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, item)
}

// RecomputeStreaks godoc
// @ID          recomputeStreaks
// @Summary     Run the streak batch now
// @Description Ops endpoint. Recomputes streak counters for the given date (default: today, UTC), optionally scoped to specific users. Safe to re-run.
// @Tags        Internal
// @Accept      json
// @Produce     json
// @Param       date query string false "Run date (YYYY-MM-DD, UTC)"
// @Param       body body  handlers.RecomputeStreaksRequest false "Optional user scope"
// @Success     200 {object} services.StreakReport
// @Failure     400 {object} handlers.ErrorResponse "Bad date or body"
// @Router      /internal/streaks/recompute [post]
func (h *Handlers) RecomputeStreaks(c *gin.Context) {
	asOf := time.Now().UTC()
	if v := c.Query("date"); v != "" {
		t, valid := utils.ParseTime(v)
		if !valid {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "date must be YYYY-MM-DD")
			return
		}
		asOf = t
	}

	var userIDs []domain.UserID
	if c.Request.ContentLength > 0 {
		var req RecomputeStreaksRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		for _, id := range req.UserIDs {
			if id = strings.TrimSpace(id); id != "" {
				userIDs = append(userIDs, domain.UserID(id))
			}
		}
	}

	report, err := h.streaks.Recompute(c.Request.Context(), asOf, userIDs)
	if err != nil {
		failDomain(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, report)
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Internal
// @Produce     json
// @Success     200 {object} map[string]string
// @Router      /healthz [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
