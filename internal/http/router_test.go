package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shelf-backend/internal/config"
	"github.com/tbourn/go-shelf-backend/internal/domain"
	"github.com/tbourn/go-shelf-backend/internal/limiter"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:routerdb?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on item endpoints
	if err := db.AutoMigrate(&domain.User{}, &domain.Item{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		Search: config.SearchConfig{
			WeightTitle:      2.0,
			WeightAuthor:     1.5,
			BonusTitleExact:  1.0,
			BonusAuthorExact: 0.5,
			RecencyBonusMax:  0.1,
			RecencyWindow:    30 * 24 * time.Hour,
			SimilarityFloor:  0.1,
			SlowThreshold:    500 * time.Millisecond,
			CacheTTL:         5 * time.Minute,
			DefaultLimit:     20,
			MaxLimit:         50,
		},
		RateLimit: config.RateLimitConfig{
			UserPerMinute:  100,
			IPPerMinute:    100,
			ItemsPerMinute: 10,
			OTPPerHour:     3,
			MagicPerMinute: 5,
		},
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		IdempotencyTTL: 24 * time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		DB:      newTestDB(t),
		Limiter: limiter.New(limiter.NewMemoryStore()),
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	RegisterRoutes(r, testDeps(t), testConfig())

	// /healthz works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /healthz)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/healthz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}

	RegisterRoutes(r, testDeps(t), cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_ItemEndpointsWired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	db := newTestDB(t)
	owner := &domain.User{ID: "router-user", Username: "router-user", ProfileVisibility: domain.VisibilityPublic}
	if err := db.Create(owner).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	RegisterRoutes(r, Deps{DB: db, Limiter: limiter.New(limiter.NewMemoryStore())}, testConfig())

	// Create an item through the full stack.
	body := bytes.NewBufferString(`{"type":"BOOK","title":"The Go Programming Language","author":"Alan Donovan"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/items", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /items = %d body=%s", w.Code, w.Body.String())
	}

	// Search finds it.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/items/search?q=go+programming", nil)
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /items/search = %d body=%s", w.Code, w.Body.String())
	}

	// Search parameter validation surfaces as 400.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/items/search?q=go&type=SCROLL", nil)
	req.Header.Set("X-User-ID", "router-user")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad type filter = %d", w.Code)
	}

	// Streak recompute is mounted.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/internal/streaks/recompute", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /internal/streaks/recompute = %d body=%s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses otel + ratelimit + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // enabled (but only set on https)
	RegisterRoutes(r, testDeps(t), cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /healthz = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	// Rate limit headers should be present (from sliding-window limiter)
	if lim := w.Header().Get("X-RateLimit-Limit"); lim == "" {
		t.Fatalf("expected X-RateLimit-Limit header to be set")
	}
}
