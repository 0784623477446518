// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage paths, search ranking weights,
// rate limiting, caching, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-shelf-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SearchConfig holds ranking weights and operational thresholds for the
// search engine. The weights are product-tuning constants, not invariants;
// they default to the values the ranking was tuned with but every one of
// them can be overridden per deployment.
type SearchConfig struct {
	WeightTitle       float64       // SEARCH_WEIGHT_TITLE, title similarity multiplier
	WeightAuthor      float64       // SEARCH_WEIGHT_AUTHOR, author similarity multiplier
	BonusTitleExact   float64       // SEARCH_BONUS_TITLE, verbatim-substring-in-title bonus
	BonusAuthorExact  float64       // SEARCH_BONUS_AUTHOR, verbatim-substring-in-author bonus
	RecencyBonusMax   float64       // SEARCH_RECENCY_MAX, cap of the linear recency bonus
	RecencyWindow     time.Duration // SEARCH_RECENCY_WINDOW, decay horizon for the bonus
	SimilarityFloor   float64       // SEARCH_SIMILARITY_FLOOR, trigram overlap cut-off
	SlowThreshold     time.Duration // SEARCH_SLOW_THRESHOLD, latency that triggers a warning log
	CacheTTL          time.Duration // SEARCH_CACHE_TTL
	DefaultLimit      int           // SEARCH_DEFAULT_LIMIT
	MaxLimit          int           // SEARCH_MAX_LIMIT
}

// RateLimitConfig holds the per-scope sliding-window policies.
type RateLimitConfig struct {
	UserPerMinute  int // RATE_USER_PER_MIN, authenticated traffic
	IPPerMinute    int // RATE_IP_PER_MIN, unauthenticated traffic
	ItemsPerMinute int // RATE_ITEMS_PER_MIN, item creation
	OTPPerHour     int // RATE_OTP_PER_HOUR, phone OTP issuance
	MagicPerMinute int // RATE_MAGIC_PER_MIN, email magic links

	// FailClosed rejects edge traffic with 503 when the limiter store is
	// unreachable. Default is fail open: only item creation has a second,
	// transactional guard, so deployments that want hard limits on the other
	// scopes opt in here.
	FailClosed bool // RATE_FAIL_CLOSED
}

// RedisConfig points at the optional shared Redis used by the limiter store
// and the shared cache layer. An empty Addr keeps everything process-local.
type RedisConfig struct {
	Addr     string // REDIS_ADDR, e.g. "localhost:6379"; empty disables Redis
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath      string // SQLite path
	APIBasePath string // base path for API routes

	// Domain stacks
	Search    SearchConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:      getenv("DB_PATH", "shelf.db"),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Search engine
		Search: SearchConfig{
			WeightTitle:      getfloat("SEARCH_WEIGHT_TITLE", 2.0),
			WeightAuthor:     getfloat("SEARCH_WEIGHT_AUTHOR", 1.5),
			BonusTitleExact:  getfloat("SEARCH_BONUS_TITLE", 1.0),
			BonusAuthorExact: getfloat("SEARCH_BONUS_AUTHOR", 0.5),
			RecencyBonusMax:  getfloat("SEARCH_RECENCY_MAX", 0.1),
			RecencyWindow:    getdur("SEARCH_RECENCY_WINDOW", 30*24*time.Hour),
			SimilarityFloor:  getfloat("SEARCH_SIMILARITY_FLOOR", 0.1),
			SlowThreshold:    getdur("SEARCH_SLOW_THRESHOLD", 500*time.Millisecond),
			CacheTTL:         getdur("SEARCH_CACHE_TTL", 5*time.Minute),
			DefaultLimit:     getint("SEARCH_DEFAULT_LIMIT", 20),
			MaxLimit:         getint("SEARCH_MAX_LIMIT", 50),
		},

		// Rate limiting
		RateLimit: RateLimitConfig{
			UserPerMinute:  getint("RATE_USER_PER_MIN", 100),
			IPPerMinute:    getint("RATE_IP_PER_MIN", 10),
			ItemsPerMinute: getint("RATE_ITEMS_PER_MIN", 10),
			OTPPerHour:     getint("RATE_OTP_PER_HOUR", 3),
			MagicPerMinute: getint("RATE_MAGIC_PER_MIN", 5),
			FailClosed:     getbool("RATE_FAIL_CLOSED", false),
		},

		// Shared Redis (optional)
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-shelf-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	s := cfg.Search
	if s.WeightTitle < 0 || s.WeightAuthor < 0 || s.BonusTitleExact < 0 || s.BonusAuthorExact < 0 {
		return cfg, errors.New("search weights must be >= 0")
	}
	if s.SimilarityFloor < 0 || s.SimilarityFloor >= 1 {
		return cfg, errors.New("SEARCH_SIMILARITY_FLOOR must be in [0,1)")
	}
	if s.RecencyWindow <= 0 || s.SlowThreshold <= 0 || s.CacheTTL <= 0 {
		return cfg, errors.New("search durations must be > 0")
	}
	if s.DefaultLimit < 1 || s.MaxLimit < s.DefaultLimit {
		return cfg, errors.New("search limits must satisfy 1 <= default <= max")
	}
	rl := cfg.RateLimit
	if rl.UserPerMinute < 1 || rl.IPPerMinute < 1 || rl.ItemsPerMinute < 1 || rl.OTPPerHour < 1 || rl.MagicPerMinute < 1 {
		return cfg, errors.New("rate limits must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
