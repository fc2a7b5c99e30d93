// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements FloodGuard, an in-memory, per-identity token-bucket
// limiter (golang.org/x/time/rate) with opportunistic garbage collection.
// It sits in front of hot write endpoints as a cheap first gate so a single
// client cannot turn every request into a Redis round trip.
//
// Notes:
//   - The guard is process-local and only ever rejects in addition to the
//     shared limiter; it never admits a request the shared budget would refuse.
//   - Requests whose key function yields "" are not limited.
package middleware

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-edge-state/internal/ratelimit"
)

const (
	floodIdleTTL     = 10 * time.Minute
	floodGCThreshold = 5000
)

// bucket holds one identity's limiter and the last time it was seen.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FloodGuard enforces a per-key token bucket. Buckets are created on demand
// and evicted once idle for floodIdleTTL. Safe for concurrent use.
type FloodGuard struct {
	rps   rate.Limit
	burst int
	key   KeyFunc
	clock quartz.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups uint64
}

// NewFloodGuard builds a guard refilling rps tokens per second up to burst.
// burst <= 0 is coerced to 1; a nil clock means the real clock.
func NewFloodGuard(rps float64, burst int, key KeyFunc, clock quartz.Clock) *FloodGuard {
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &FloodGuard{
		rps:     rate.Limit(rps),
		burst:   burst,
		key:     key,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns the bucket for key, creating it if absent. Idle buckets are
// swept every floodGCThreshold lookups, before the requested one is touched
// so a stale entry can be evicted even when it is the one being fetched.
func (g *FloodGuard) limiter(key string, now time.Time) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lookups++
	if g.lookups >= floodGCThreshold {
		for k, b := range g.buckets {
			if now.Sub(b.lastSeen) >= floodIdleTTL {
				delete(g.buckets, k)
			}
		}
		g.lookups = 0
	}

	if b, ok := g.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(g.rps, g.burst)
	g.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// size reports how many buckets are tracked.
func (g *FloodGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}

// Handler returns the Gin middleware. Rejections share the 429 envelope of
// RateLimit; Retry-After is the time until the next token.
func (g *FloodGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := g.key(c)
		if key == "" {
			c.Next()
			return
		}
		now := g.clock.Now()
		if g.limiter(key, now).AllowN(now, 1) {
			c.Next()
			return
		}

		var wait time.Duration
		if g.rps > 0 {
			wait = time.Duration(float64(time.Second) / float64(g.rps))
		}
		LoggerFrom(c).Warn().Str("guard", "flood").Msg("request rejected by flood guard")
		AbortRateLimited(c, ratelimit.Decision{Reason: ratelimit.ReasonLimited, RetryAfter: wait})
	}
}
