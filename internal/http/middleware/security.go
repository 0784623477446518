// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file hardens responses with a conservative header set for a JSON API
// behind a reverse proxy. There is no CSP here; it only matters when serving
// HTML. HSTS is opt-in and only ever emitted on HTTPS requests.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers emitted by SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests. Enable
	// only when traffic is HTTPS end to end, proxy hop included.
	EnableHSTS bool
	// HSTSMaxAge is the HSTS lifetime; 180 days when unset.
	HSTSMaxAge time.Duration
	// NoStore adds Cache-Control: no-store (plus the legacy Pragma/Expires
	// pair) so reading-profile responses are never cached.
	NoStore bool
	// EnablePolicy adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies. Browser-only headers, harmless for
	// API clients.
	EnablePolicy bool
}

// SecurityHeaders attaches the baseline hardening headers to every response:
// X-Content-Type-Options: nosniff, X-Frame-Options: DENY, and
// Referrer-Policy: no-referrer, plus the optional sets described on
// SecurityOptions. When the response already carries an X-Request-ID it is
// added to Access-Control-Expose-Headers so browser clients can correlate
// errors with server logs.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		// Never on plain HTTP: a misconfigured proxy must not poison the
		// client's HSTS cache.
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			switch cur := h.Get(hdr); {
			case cur == "":
				h.Set(hdr, "X-Request-ID")
			case !strings.Contains(cur, "X-Request-ID"):
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
