package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-edge-state/internal/config"
)

// NewClient parses cfg.URL, applies pool settings, and verifies the
// connection with a PING bounded by the dial timeout. The returned client is
// shared by every component; go-redis pools connections internally.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// notifyKey is the server setting that gates keyspace notifications.
const notifyKey = "notify-keyspace-events"

// EnableExpiryEvents makes sure the server publishes keyevent notifications
// for expired keys ("E" + "x"), keeping any flags already configured. Managed
// Redis offerings commonly reject CONFIG; callers treat the error as a
// warning and rely on the operator to set the flags.
func EnableExpiryEvents(ctx context.Context, c redis.Cmdable) error {
	cur, err := c.ConfigGet(ctx, notifyKey).Result()
	if err != nil {
		return fmt.Errorf("config get %s: %w", notifyKey, err)
	}
	flags := mergeNotifyFlags(cur[notifyKey])
	if flags == cur[notifyKey] {
		return nil
	}
	if err := c.ConfigSet(ctx, notifyKey, flags).Err(); err != nil {
		return fmt.Errorf("config set %s: %w", notifyKey, err)
	}
	log.Info().Str("flags", flags).Msg("enabled expiry keyevent notifications")
	return nil
}

// mergeNotifyFlags adds E and x to an existing flag string. "A" already
// implies x.
func mergeNotifyFlags(cur string) string {
	out := cur
	if !strings.Contains(out, "E") {
		out += "E"
	}
	if !strings.Contains(out, "x") && !strings.Contains(out, "A") {
		out += "x"
	}
	return out
}
