// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-shelf-backend/internal/cache"
	"github.com/tbourn/go-shelf-backend/internal/config"
	"github.com/tbourn/go-shelf-backend/internal/http/handlers"
	"github.com/tbourn/go-shelf-backend/internal/http/middleware"
	"github.com/tbourn/go-shelf-backend/internal/limiter"
	"github.com/tbourn/go-shelf-backend/internal/repo"
	"github.com/tbourn/go-shelf-backend/internal/search"
	"github.com/tbourn/go-shelf-backend/internal/services"
)

// Deps carries the shared infrastructure the router injects into services.
// SearchCache and EnrichmentProvider may be nil; nil disables the respective
// feature rather than failing startup.
type Deps struct {
	DB          *gorm.DB
	Limiter     *limiter.Limiter
	SearchCache *cache.Layered
	Enrichment  services.EnrichmentProvider
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Sliding-window rate limiter (per user/IP)
//  8. CORS and Security headers
//
// Idempotency is not a middleware here: replay detection lives inside the
// ingestion pipeline so the stored record can reference the created item.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB), gzip on the way out
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Sliding-window rate limiter per user/IP
	userPolicy := limiter.Policy{Scope: "user", Window: time.Minute, MaxRequests: cfg.RateLimit.UserPerMinute}
	ipPolicy := limiter.Policy{Scope: "ip", Window: time.Minute, MaxRequests: cfg.RateLimit.IPPerMinute}
	r.Use(middleware.RateLimit(deps.Limiter, middleware.IdentityByUserOrIP(userPolicy, ipPolicy), cfg.RateLimit.FailClosed))

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Dependency injection: services ← store/limiter/cache
	store := repo.NewGorm(deps.DB)

	itemSvc := services.NewItemService(store, deps.Limiter)
	itemSvc.Policy = limiter.Policy{Scope: "items", Window: time.Minute, MaxRequests: cfg.RateLimit.ItemsPerMinute}
	itemSvc.IdempotencyTTL = cfg.IdempotencyTTL
	itemSvc.Events = &services.LogEventBus{Logger: itemSvc.Logger}
	itemSvc.Audit = &services.LogAuditLog{Logger: itemSvc.Logger}
	if deps.Enrichment != nil {
		itemSvc.Enricher = services.NewEnricher(store, deps.Enrichment, itemSvc.Logger)
	}

	engine := search.NewEngine(store, deps.SearchCache)
	engine.WeightTitle = cfg.Search.WeightTitle
	engine.WeightAuthor = cfg.Search.WeightAuthor
	engine.BonusTitle = cfg.Search.BonusTitleExact
	engine.BonusAuthor = cfg.Search.BonusAuthorExact
	engine.RecencyMax = cfg.Search.RecencyBonusMax
	engine.RecencyWindow = cfg.Search.RecencyWindow
	engine.SimilarityFloor = cfg.Search.SimilarityFloor
	engine.SlowThreshold = cfg.Search.SlowThreshold
	engine.CacheTTL = cfg.Search.CacheTTL
	engine.DefaultLimit = cfg.Search.DefaultLimit
	engine.MaxLimit = cfg.Search.MaxLimit

	streakSvc := services.NewStreakService(store)
	streakSvc.Analytics = &services.LogAnalytics{Logger: streakSvc.Logger}

	h := handlers.New(itemSvc, engine, streakSvc)

	// Liveness/health
	r.GET("/healthz", h.Health)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Items
		api.POST("/items", h.CreateItem)
		api.GET("/items/search", h.SearchItems)
		api.GET("/items/:id", h.GetItem)
		api.PUT("/items/:id/status", h.UpdateItemStatus)
		api.PUT("/items/:id/rating", h.RateItem)

		// Ops
		api.POST("/internal/streaks/recompute", h.RecomputeStreaks)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
