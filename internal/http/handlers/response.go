// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the shared response helpers. Every endpoint writes errors
// through fail/Fail so clients always receive the same envelope:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "item_not_found",
//	  "message": "item not found"
//	}
//
// Success bodies are plain JSON of the domain object (an item, a search
// page, a streak report) with no wrapper.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shelf-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint. Code is a
// stable machine-readable string (constants in errors.go); Message is safe
// to show to users; RequestID correlates the response with server logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"item_not_found"`
	Message   string `json:"message" example:"item not found"`
}

// fail aborts the request with the standard envelope. Server-side errors
// (5xx) are additionally logged through the request-scoped logger so every
// 500 a client sees has a matching log line.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to other packages (router-level handlers such as the 404
// fallback) so they emit the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an empty 204.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
