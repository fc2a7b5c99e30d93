package ratelimit

import (
	"time"

	"github.com/tbourn/go-edge-state/internal/cache"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonLimited    Reason = "limited"
	ReasonCacheError Reason = "cache_error"
)

// Rule is one budget to enforce: at most Limit hits per Window for Identity
// along Dimension. Rules with an empty Identity are skipped.
type Rule struct {
	Dimension cache.Dimension
	Identity  string
	Limit     int
	Window    time.Duration
}

// Decision is the verdict for a request.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Dimension  cache.Dimension
	Count      int64
	RetryAfter time.Duration
}

// Evaluate maps a limiter outcome to a decision. Any error rejects the
// request: an unavailable cache must never open the gate.
func Evaluate(rule Rule, res Result, err error) Decision {
	d := Decision{Dimension: rule.Dimension, Count: res.Count}
	switch {
	case err != nil:
		d.Reason = ReasonCacheError
		d.RetryAfter = rule.Window
	case !res.Allowed:
		d.Reason = ReasonLimited
		d.RetryAfter = rule.Window
	default:
		d.Allowed = true
	}
	return d
}
