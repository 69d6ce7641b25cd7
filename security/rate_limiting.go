package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit wraps a route handler with a Redis-backed fixed-window limit keyed
// by client IP. Join and trigger endpoints sit behind this so a burst of
// wallet retries cannot hammer the ledger node.
func (r *RateLimiter) Limit(max int64, window time.Duration, next func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		ctx := e.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%s", e.Request.URL.Path, clientIP(e))

		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, window)
			}
			if count > max {
				return e.JSON(429, map[string]string{
					"error": "Rate limit exceeded. Please try again later.",
				})
			}
		}

		return next(e)
	}
}

// SuspiciousAgentGuard rejects obvious scripted clients on participant
// endpoints.
func (r *RateLimiter) SuspiciousAgentGuard(next func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		userAgent := e.Request.Header.Get("User-Agent")
		if isSuspiciousUserAgent(userAgent) {
			return e.JSON(403, map[string]string{"error": "Access denied"})
		}
		return next(e)
	}
}

func clientIP(e *core.RequestEvent) string {
	if fwd := e.Request.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return e.Request.RemoteAddr
}

func isSuspiciousUserAgent(userAgent string) bool {
	if userAgent == "" {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper", "curl/", "python-requests"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
