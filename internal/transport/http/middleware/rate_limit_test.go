package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/department-iam/internal/repository/memory"
)

type failingRateLimitStore struct {
	*memory.RateLimitStore
	recordCalls int
}

func (f *failingRateLimitStore) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return errors.New("redis down")
}

func (f *failingRateLimitStore) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	f.recordCalls++
	return nil
}

func newLimitedRouter(t *testing.T, limiter *RateLimiter, limit int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:   "login",
		Limit:  limit,
		Window: time.Minute,
		Identifier: func(c *gin.Context) (string, bool) {
			return "192.0.2.1", true
		},
	}))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimiterCountsDownRemaining(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(memory.NewRateLimitStore(), zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(t, limiter, 3)

	for i, want := range []string{"2", "1", "0"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Fatalf("request %d: expected remaining %s, got %q", i, want, got)
		}
		if got := rr.Header().Get("Retry-After"); got != "" {
			t.Fatalf("request %d: unexpected retry-after %q", i, got)
		}
	}
}

func TestRateLimiterBlocksWhenLimitExceeded(t *testing.T) {
	start := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	now := start
	limiter := NewRateLimiter(memory.NewRateLimitStore(), zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(t, limiter, 2)

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	}

	now = start.Add(30 * time.Second)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(start.Add(time.Minute).Unix(), 10) {
		t.Fatalf("unexpected reset header %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 30 {
		t.Fatalf("unexpected problem %+v", problem)
	}
	if problem.Instance != "/login" {
		t.Fatalf("expected instance /login, got %q", problem.Instance)
	}

	now = start.Add(61 * time.Second)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected window to slide open, got %d", rr.Code)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &failingRateLimitStore{RateLimitStore: memory.NewRateLimitStore()}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))
	router := newLimitedRouter(t, limiter, 1)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 when failing open, got %d", rr.Code)
		}
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no recorded attempts on failure, got %d", store.recordCalls)
	}
}

func TestRateLimiterDisabledRule(t *testing.T) {
	limiter := NewRateLimiter(memory.NewRateLimitStore(), zaptest.NewLogger(t))
	router := newLimitedRouter(t, limiter, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("expected pass-through, got %d with headers %v", rr.Code, rr.Header())
	}
}
