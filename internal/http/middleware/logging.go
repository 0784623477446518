// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and access logging:
//
//   - RequestID() stamps every request with a correlation ID, reusing the
//     client's X-Request-ID when present.
//   - Logger() emits one structured access-log line per request and parks a
//     request-scoped zerolog.Logger in the Gin context so handlers can log
//     with the same correlation fields (lg.Info().Str("item_id", id).Msg(…)).
//   - Recovery() turns panics into JSON 500 responses carrying the
//     correlation ID.
//
// Order matters: RequestID first, then the logger (or RedactingLogger), then
// Recovery, so a panic is logged with full request context. Query strings are
// capped before logging; search queries are user input and can be long.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation ID.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation ID to and from clients.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps how much of the raw query string is logged.
	maxQueryLogLength = 2048
)

// RequestID reuses the incoming X-Request-ID or mints a UUIDv4, stores it in
// the Gin context, and echoes it on the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log per request: method, matched route,
// client IP, correlation and user IDs, capped query string, latency, status,
// and byte counts. The log level follows the outcome: error for 5xx or
// collected Gin errors, warn for 4xx, info otherwise.
//
// A request-scoped logger with the same base fields is stored under the
// "logger" context key; retrieve it with LoggerFrom.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		uid, _ := c.Get("userID")
		path := c.FullPath()
		if path == "" {
			// Unmatched route (404 and friends).
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", asString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength). // -1 when unknown
			Logger()

		c.Set("logger", &l)

		c.Next()

		ev := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case c.Writer.Status() >= 500:
			ev.Error().Msg("request")
		case c.Writer.Status() >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery converts a panic into a JSON 500 with the correlation ID, after
// logging the panic value and stack. When a partial response was already
// written only the status is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by Logger (or
// RedactingLogger). Outside a logging middleware it falls back to the global
// logger, so callers never need a nil check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString unwraps a context value as a string, empty for anything else.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables the
// cap. Byte-level truncation is fine for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
