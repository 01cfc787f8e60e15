package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 20, Burst: 40}
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64
	lastFill time.Time
}

func newBucket(rate float64, burst int, now time.Time) *bucket {
	return &bucket{tokens: float64(burst), max: float64(burst), rate: rate, lastFill: now}
}

// take refills by elapsed time and consumes one token. When empty it
// returns the whole seconds until a token is available.
func (b *bucket) take(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastFill).Seconds() * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastFill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.rate) + 1
}

type limiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[string]*bucket
	now     func() time.Time
}

func (l *limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg.RequestsPerSecond, l.cfg.Burst, l.now())
		l.buckets[key] = b
	}
	return b
}

// RateLimit throttles per authenticated user, falling back to client IP.
// It guards the calculator endpoints, which do no I/O and are cheap to
// hammer.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, now func() time.Time) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	l := &limiter{cfg: cfg, buckets: make(map[string]*bucket), now: now}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := auth.UserIDFromContext(c.Request().Context())
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			ok, retry := l.bucketFor(key).take(l.now())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
