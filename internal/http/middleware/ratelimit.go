// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RateLimit, a gate backed by the Redis sliding-window
// limiter, so every worker in the fleet charges the same budget. The
// identity of a request comes from a pluggable key function; the default
// buckets the client address (IPv4 /24, IPv6 /64).
//
// Notes:
//   - The limiter fails closed: when Redis is unreachable the request is
//     rejected exactly like an over-budget one.
//   - Requests whose key function yields "" are not limited.
//   - The limiter is intended for edge-level abuse control and cost protection;
//     it is not an authorization mechanism.
package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
)

// RateChecker evaluates rate-limit rules; *ratelimit.Guard implements it.
type RateChecker interface {
	Check(ctx context.Context, rules ...ratelimit.Rule) ratelimit.Decision
}

// KeyFunc selects the identity charged for a request.
type KeyFunc func(*gin.Context) string

// KeyByIPBucket returns a KeyFunc that resolves the client address from the
// Forwarded / X-Forwarded-For headers or the peer, and returns its bucket.
func KeyByIPBucket() KeyFunc {
	return func(c *gin.Context) string {
		addr, ok := ratelimit.ClientIP(c.Request)
		if !ok {
			return ""
		}
		return ratelimit.IPBucket(addr)
	}
}

// KeyWithPrefix namespaces the identity produced by k so two gates over the
// same dimension keep separate budgets. Empty identities stay empty.
func KeyWithPrefix(prefix string, k KeyFunc) KeyFunc {
	return func(c *gin.Context) string {
		id := k(c)
		if id == "" {
			return ""
		}
		return prefix + id
	}
}

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Dimension cache.Dimension
	Limit     int
	Window    time.Duration
	Key       KeyFunc // defaults to KeyByIPBucket
}

// RateLimit returns a Gin middleware that charges one hit per request.
//
// Rejected requests get:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds>
//	{
//	  "request_id": "<uuid>",
//	  "code":       "too_many_requests",
//	  "message":    "rate limit exceeded"
//	}
func RateLimit(g RateChecker, opt RateLimitOptions) gin.HandlerFunc {
	key := opt.Key
	if key == nil {
		key = KeyByIPBucket()
	}
	return func(c *gin.Context) {
		id := key(c)
		if id == "" {
			c.Next()
			return
		}
		d := g.Check(c.Request.Context(), ratelimit.Rule{
			Dimension: opt.Dimension,
			Identity:  id,
			Limit:     opt.Limit,
			Window:    opt.Window,
		})
		if d.Allowed {
			c.Next()
			return
		}
		AbortRateLimited(c, d)
	}
}

// AbortRateLimited writes the 429 envelope for a rejected decision.
func AbortRateLimited(c *gin.Context, d ratelimit.Decision) {
	c.Header("Retry-After", RetryAfterSeconds(d.RetryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "too_many_requests",
		"message":    "rate limit exceeded",
	})
}

// RetryAfterSeconds renders d as whole seconds, rounding up, with a floor of 1.
func RetryAfterSeconds(d time.Duration) string {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}
