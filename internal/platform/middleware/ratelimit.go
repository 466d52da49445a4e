package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig bounds how fast one client may hit the booking API. The
// burst absorbs a patient refreshing the slot grid; the steady rate stops
// scripted slot scanning.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// Idle clients are forgotten after this long; their next request starts
// with a full burst again.
const visitorTTL = 3 * time.Minute

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// ipLimiter tracks one token balance per client IP under a single lock.
// Stale entries are pruned opportunistically so the map stays bounded by
// the set of recently active clients.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      float64
	burst     float64
	lastPrune time.Time
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{
		visitors:  make(map[string]*visitor),
		rate:      cfg.RequestsPerSecond,
		burst:     float64(cfg.BurstSize),
		lastPrune: time.Now(),
	}
}

// allow reports whether the client may proceed and, when it may not, how
// many seconds to wait before retrying.
func (l *ipLimiter) allow(ip string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > visitorTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, key)
			}
		}
		l.lastPrune = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{tokens: l.burst, lastSeen: now}
		l.visitors[ip] = v
	} else {
		v.tokens += now.Sub(v.lastSeen).Seconds() * l.rate
		if v.tokens > l.burst {
			v.tokens = l.burst
		}
		v.lastSeen = now
	}

	if v.tokens < 1 {
		if l.rate <= 0 {
			return false, 1
		}
		return false, int((1-v.tokens)/l.rate) + 1
	}
	v.tokens--
	return true, 0
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiter := newIPLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := limiter.allow(c.RealIP(), time.Now())
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
