package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskflow/errors"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// RequestsPerMinute per key. Zero means 60.
	RequestsPerMinute int
	// KeyFunc extracts the limit key. Defaults to the client IP.
	KeyFunc func(*gin.Context) string
}

// RateLimit applies a per-key sliding one-minute window.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPBasedKey
	}
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    cfg.RequestsPerMinute,
		now:      time.Now,
	}

	return func(c *gin.Context) {
		if !rl.allow(cfg.KeyFunc(c)) {
			abort(c, apperrors.RateLimited())
			return
		}
		c.Next()
	}
}

func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}

// SubjectKey limits per authenticated subject, falling back to client IP.
func SubjectKey(c *gin.Context) string {
	if s := Subject(c); s != "" {
		return s
	}
	return c.ClientIP()
}

type rateLimiter struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	limit     int
	now       func() time.Time
	lastSweep time.Time
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)
	if now.Sub(rl.lastSweep) > 5*time.Minute {
		for k, times := range rl.requests {
			if valid := filterByTime(times, cutoff); len(valid) == 0 {
				delete(rl.requests, k)
			} else {
				rl.requests[k] = valid
			}
		}
		rl.lastSweep = now
	}

	valid := filterByTime(rl.requests[key], cutoff)
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

func filterByTime(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
