package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newResponseRouter(requestID string, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", requestID)
		if logger != nil {
			c.Set("logger", logger)
		}
		c.Next()
	})
	return r
}

func TestFail_ServerErrorLogsAndWrapsEnvelope(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := newResponseRouter("rid-500", &logger)
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != "internal_error" || resp.Message != "kaboom" {
		t.Fatalf("envelope = %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("500 not logged at error level: %s", buf.String())
	}
}

func TestFail_ClientErrorSkipsErrorLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := newResponseRouter("rid-404", &logger)
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "item_not_found", "item not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RequestID != "rid-404" || resp.Code != "item_not_found" {
		t.Fatalf("envelope = %+v", resp)
	}
	if strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("4xx logged at error level: %s", buf.String())
	}
}

func TestSuccessHelpers(t *testing.T) {
	r := newResponseRouter("rid-ok", nil)
	r.GET("/created", func(c *gin.Context) {
		ok(c, http.StatusCreated, gin.H{"title": "The Go Programming Language"})
	})
	r.DELETE("/gone", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/created", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["title"] != "The Go Programming Language" {
		t.Fatalf("body = %#v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("204 response: status = %d, body = %q", w.Code, w.Body.String())
	}
}
