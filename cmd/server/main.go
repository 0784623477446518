// Command server runs the reading-profile backend: the HTTP API, the search
// engine with its layered cache, the sliding-window rate limiter, and the
// nightly streak batch.
//
// Startup order: env → config → logging → tracing → storage → shared infra
// (Redis when configured, process-local fallbacks otherwise) → routes →
// background jobs → serve. Shutdown drains in the reverse order with a
// bounded grace period.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shelf-backend/internal/cache"
	"github.com/tbourn/go-shelf-backend/internal/config"
	httpapi "github.com/tbourn/go-shelf-backend/internal/http"
	"github.com/tbourn/go-shelf-backend/internal/limiter"
	"github.com/tbourn/go-shelf-backend/internal/observability"
	"github.com/tbourn/go-shelf-backend/internal/repo"
	"github.com/tbourn/go-shelf-backend/internal/services"
	"github.com/tbourn/go-shelf-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting shelf backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Shared infrastructure. With Redis the limiter windows and the warm
	// cache layer hold across instances; without it everything stays
	// process-local, which is correct for a single node.
	var (
		limStore    limiter.Store
		searchCache *cache.Layered
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
		}
		limStore = limiter.NewRedisStore(rdb)
		searchCache = cache.NewLayered(cache.NewMemory(), cache.NewRedis(rdb))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis wired for limiter and cache")
	} else {
		limStore = limiter.NewMemoryStore()
		searchCache = cache.NewLayered(cache.NewMemory(), nil)
	}
	lim := limiter.New(limStore)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:          db,
		Limiter:     lim,
		SearchCache: searchCache,
	}, cfg)

	// Nightly streak batch, fired shortly after each UTC midnight.
	streaks := services.NewStreakService(repo.NewGorm(db))
	streaks.Analytics = &services.LogAnalytics{Logger: log.Logger}
	go streaks.RunNightly(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
