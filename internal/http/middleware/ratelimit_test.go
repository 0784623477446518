package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shelf-backend/internal/limiter"
)

func newLimitedRouter(lim *limiter.Limiter, userPolicy, ipPolicy limiter.Policy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(lim, IdentityByUserOrIP(userPolicy, ipPolicy), false))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimit_RejectsOverLimitWithHeaders(t *testing.T) {
	policy := limiter.Policy{Scope: "user", Window: time.Minute, MaxRequests: 2}
	r := newLimitedRouter(limiter.New(limiter.NewMemoryStore()), policy, limiter.PolicyIP)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-User-ID", "u1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("limit header = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("429 without Retry-After")
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_UsersAreIsolated(t *testing.T) {
	policy := limiter.Policy{Scope: "user", Window: time.Minute, MaxRequests: 1}
	r := newLimitedRouter(limiter.New(limiter.NewMemoryStore()), policy, limiter.PolicyIP)

	for _, uid := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-User-ID", uid)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("user %s = %d", uid, w.Code)
		}
	}
}

func TestRateLimit_AnonymousFallsBackToIPPolicy(t *testing.T) {
	ipPolicy := limiter.Policy{Scope: "ip", Window: time.Minute, MaxRequests: 1}
	r := newLimitedRouter(limiter.New(limiter.NewMemoryStore()), limiter.PolicyUser, ipPolicy)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first anonymous = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second anonymous = %d, want 429", w.Code)
	}
}

type downStore struct{}

func (downStore) Take(context.Context, string, time.Duration, int, time.Time) (limiter.TakeResult, error) {
	return limiter.TakeResult{}, errors.New("store down")
}
func (downStore) Reset(context.Context, string) error { return errors.New("store down") }

func TestRateLimit_FailsOpenWhenStoreDown(t *testing.T) {
	r := newLimitedRouter(limiter.New(downStore{}), limiter.PolicyUser, limiter.PolicyIP)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("store outage should fail open, got %d", w.Code)
	}
}

func TestRateLimit_FailsClosedWhenConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter.New(downStore{}), IdentityByUserOrIP(limiter.PolicyUser, limiter.PolicyIP), true))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("store outage should fail closed, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("503 without Retry-After")
	}
}
