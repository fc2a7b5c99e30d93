package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/observability"
)

// Hitter is the limiter contract the guard depends on.
type Hitter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Guard evaluates a sequence of rules for one request.
type Guard struct {
	Limiter Hitter
	Keys    cache.Keyspace
}

// NewGuard returns a Guard over l using keys for key derivation.
func NewGuard(l Hitter, keys cache.Keyspace) *Guard {
	return &Guard{Limiter: l, Keys: keys}
}

// Check evaluates rules in order and stops at the first rejection, so later
// budgets are not charged for a request that was already refused. With no
// applicable rules the request is allowed.
func (g *Guard) Check(ctx context.Context, rules ...Rule) Decision {
	ctx, span := observability.StartSpan(ctx, "ratelimit", "Check")
	defer span.End()

	for _, r := range rules {
		if r.Identity == "" {
			continue
		}
		res, err := g.Limiter.Hit(ctx, g.Keys.RateLimit(r.Dimension, r.Identity), r.Limit, r.Window)
		d := Evaluate(r, res, err)
		record(d)

		if err != nil {
			log.Warn().Err(err).Str("dimension", string(r.Dimension)).Msg("rate limiter unavailable; rejecting")
		}
		if !d.Allowed {
			span.SetAttributes(
				attribute.String("ratelimit.dimension", string(d.Dimension)),
				attribute.String("ratelimit.reason", string(d.Reason)),
			)
			return d
		}
	}
	return Decision{Allowed: true}
}

func record(d Decision) {
	outcome := observability.OutcomeAllowed
	switch d.Reason {
	case ReasonLimited:
		outcome = observability.OutcomeLimited
	case ReasonCacheError:
		outcome = observability.OutcomeCacheError
	}
	observability.RateLimitDecisions.WithLabelValues(string(d.Dimension), outcome).Inc()
}
