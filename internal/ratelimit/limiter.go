// Package ratelimit implements the distributed sliding-window limiter shared
// by every worker in the fleet.
//
// Each identity owns one sorted set whose members are hits scored by their
// timestamp in milliseconds. A single Lua script trims hits that fell out of
// the window, counts the rest, and records the new hit only when the count is
// still under the limit. Redis runs scripts atomically, so the script is the
// only synchronization: there is no process-local lock around the limiter or
// the connection pool.
//
// Cache failures are surfaced to the caller; the policy in policy.go turns
// them into rejections (fail-closed).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidRule is returned for non-positive limits or windows.
var ErrInvalidRule = errors.New("ratelimit: limit and window must be positive")

// hitScript returns {count, recorded}. count includes the new hit when
// recorded is 1. A hit exactly at now-window is still inside the window.
//
// KEYS[1] sorted set; ARGV: now-ms, exclusive cutoff, limit, window-ms, member.
var hitScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
if count >= tonumber(ARGV[3]) then
  return {count, 0}
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[4])
return {count + 1, 1}
`)

// Result is the outcome of one hit.
type Result struct {
	// Count is the number of hits inside the window after this call.
	Count int64
	// Allowed reports whether this hit was recorded.
	Allowed bool
}

// Limiter runs the sliding-window script against Redis.
type Limiter struct {
	Client redis.Scripter
	Clock  quartz.Clock
}

// NewLimiter returns a Limiter using the real clock when clock is nil.
func NewLimiter(c redis.Scripter, clock quartz.Clock) *Limiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Limiter{Client: c, Clock: clock}
}

// Hit records one attempt against key when fewer than limit hits happened in
// the trailing window. Members are "<now-ms>-<uuid>" so hits landing in the
// same millisecond are all counted.
func (l *Limiter) Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit < 1 || window <= 0 {
		return Result{}, ErrInvalidRule
	}
	now := l.Clock.Now().UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	nowStr := strconv.FormatInt(now, 10)

	vals, err := hitScript.Run(ctx, l.Client, []string{key},
		nowStr,
		"("+strconv.FormatInt(now-windowMS, 10),
		strconv.Itoa(limit),
		strconv.FormatInt(windowMS, 10),
		nowStr+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: hit: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}
	return Result{Count: vals[0], Allowed: vals[1] == 1}, nil
}
