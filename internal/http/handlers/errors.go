// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package), plus the translation from the typed
// domain error taxonomy to (status, code) pairs. These codes give clients a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., search_failed, create_failed) are reserved for
//     business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "rate_limited",
//	  "message": "rate limit exceeded for items (limit 10)"
//	}
package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shelf-backend/internal/domain"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidation       = "validation_error"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeSearchFailed     = "search_failed"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failDomain translates a typed domain error into the envelope the API
// promises. Unknown errors become 500 internal_error with the fallback code
// supplied by the caller so the endpoint context is not lost.
func failDomain(c *gin.Context, err error, fallbackCode string) {
	var (
		verr *domain.ValidationError
		rle  *domain.RateLimitError
		nf   *domain.NotFoundError
		cf   *domain.ConflictError
		az   *domain.AuthorizationError
		pe   *domain.ProviderAPIError
	)
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.As(err, &rle):
		if secs := rle.RetryAfter.Seconds(); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(secs))))
		}
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, rle.Error())
	case errors.As(err, &nf):
		fail(c, http.StatusNotFound, ErrCodeNotFound, nf.Error())
	case errors.As(err, &cf):
		fail(c, http.StatusConflict, ErrCodeConflict, cf.Error())
	case errors.As(err, &az):
		fail(c, http.StatusForbidden, ErrCodeForbidden, az.Error())
	case errors.As(err, &pe):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "upstream dependency failed")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
