// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file installs the sliding-window rate limiter at the edge. Identity
// selection is pluggable: authenticated requests are limited per user,
// anonymous ones per client IP, with separate policies for each namespace.
//
// Notes:
//   - The window store may be process-local (memory) or shared (Redis); pick
//     the Redis store for horizontally scaled deployments so limits hold
//     globally.
//   - Edge limiting is abuse control, not an authorization mechanism. The
//     ingestion pipeline carries its own transactional guard, so the default
//     posture when the limiter store is unreachable is to fail open. Scopes
//     without a downstream guard can opt into failing closed instead.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shelf-backend/internal/limiter"
)

// identityFunc selects the identity and policy used for one request.
//
// Implementations should return a stable identifier for the duration of a
// request (user id or client IP) together with the policy of its namespace.
type identityFunc func(*gin.Context) (identifier string, p limiter.Policy)

// IdentityByUserOrIP prefers a user identity (from the Gin context under
// "userID", typically set by auth middleware, with the X-User-ID header as a
// test fallback) under userPolicy, and falls back to the client IP under
// ipPolicy. Scope prefixes on the policies keep the namespaces from
// colliding.
func IdentityByUserOrIP(userPolicy, ipPolicy limiter.Policy) identityFunc {
	return func(c *gin.Context) (string, limiter.Policy) {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, userPolicy
			}
		}
		if h := c.GetHeader("X-User-ID"); h != "" {
			return h, userPolicy
		}
		return c.ClientIP(), ipPolicy
	}
}

// RateLimit returns a Gin middleware enforcing sliding-window limits through
// lim.
//
// On rejection it emits:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds>
//	X-RateLimit-Limit / X-RateLimit-Remaining / X-RateLimit-Reset
//	{
//	  "request_id": "<uuid>",
//	  "code":       "rate_limited",
//	  "message":    "rate limit exceeded"
//	}
//
// A limiter store failure is logged and, by default, the request proceeds
// (fail open); see the package comment for why that posture is safe here.
// With failClosed set the same failure aborts the request with 503 instead,
// for deployments that prefer hard limits over availability.
func RateLimit(lim *limiter.Limiter, identity identityFunc, failClosed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, policy := identity(c)

		res, err := lim.Check(c.Request.Context(), id, policy)
		if err != nil {
			if failClosed {
				log.Error().Err(err).Str("scope", policy.Scope).Msg("rate limiter unavailable, failing closed")
				c.Header("Retry-After", "1")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"request_id": c.Writer.Header().Get("X-Request-ID"),
					"code":       "rate_limiter_unavailable",
					"message":    "rate limiter unavailable",
				})
				return
			}
			log.Warn().Err(err).Str("scope", policy.Scope).Msg("rate limiter unavailable, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))

		if res.Allowed {
			c.Next()
			return
		}

		retry := int(math.Ceil(res.RetryAfter(time.Now()).Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
