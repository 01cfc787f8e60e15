package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
)

func TestRateLimit_BurstThenReject(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mw := rateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}, clock)
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	call := func() (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", nil)
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "nurse-1"))
		rec := httptest.NewRecorder()
		return rec, h(e.NewContext(req, rec))
	}

	for i := 0; i < 2; i++ {
		if _, err := call(); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	rec, err := call()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	now = now.Add(time.Second)
	if _, err := call(); err != nil {
		t.Fatalf("expected refill after one second, got %v", err)
	}
}

func TestRateLimit_SeparateKeys(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mw := rateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, func() time.Time { return now })
	h := mw(func(c echo.Context) error { return nil })
	e := echo.New()

	for _, user := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/calculate", nil)
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, user))
		if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Errorf("user %s: unexpected error: %v", user, err)
		}
	}
}
