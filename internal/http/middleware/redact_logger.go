// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger used in production
// deployments. Search queries and item metadata flow through query strings,
// so the logger scrubs obvious PII (emails, phone numbers, UUID-shaped
// identifiers) before a line is emitted, and it never logs request or
// response bodies. Sensitive headers (Authorization, Cookie, Set-Cookie,
// plus any configured extras) are masked outright.
//
// Scrubbing reduces the risk of PII reaching logs; it does not remove the
// need to keep PII out of query strings in the first place.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures extra scrubbing for RedactingLogger. MaskHeaders
// lists additional header names (case-insensitive) whose values are replaced
// with "[REDACTED]", on top of the built-in sensitive set.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger logs one structured line per request with PII scrubbed
// from the query string and header values. Level follows the response:
// info, warn for 4xx, error for 5xx.
//
// UUIDs are redacted before phone numbers; the looser phone pattern would
// otherwise match the digit runs inside a UUID.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex segments of already-redacted IDs cannot match.
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		return phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	}

	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := maskHeaders[strings.ToLower(k)]; masked {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
