package activity

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-edge-state/internal/cache"
)

// DefaultSweepBatch is the SCAN COUNT hint.
const DefaultSweepBatch = 100

// Sweeper periodically flushes event logs whose timer is gone but that no
// watcher flushed, which happens when a notification fires while no
// subscriber is connected.
type Sweeper struct {
	Client    redis.Cmdable
	Keys      cache.Keyspace
	Flusher   Flusher
	Clock     quartz.Clock
	Interval  time.Duration // <= 0 disables Run
	BatchSize int64
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return nil
	}
	clock := s.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	log.Info().Dur("interval", s.Interval).Msg("orphan sweeper started")
	w := clock.TickerFunc(ctx, s.Interval, func() error {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("orphan sweep failed")
		}
		return nil
	}, "sweeper")
	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Sweep flushes every event log without a live timer and returns how many
// produced a record. A session that becomes active between the timer check
// and the flush is flushed early; its next expiry then finds an empty log.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	count := s.BatchSize
	if count <= 0 {
		count = DefaultSweepBatch
	}

	flushed := 0
	var cursor uint64
	for {
		keys, next, err := s.Client.Scan(ctx, cursor, s.Keys.EventsPattern(), count).Result()
		if err != nil {
			return flushed, err
		}
		for _, k := range keys {
			id, ok := s.Keys.ParseEventsKey(k)
			if !ok {
				continue
			}
			n, err := s.Client.Exists(ctx, s.Keys.Timer(id)).Result()
			if err != nil {
				return flushed, err
			}
			if n > 0 {
				continue
			}
			rec, err := s.Flusher.Flush(ctx, id)
			if err != nil {
				log.Warn().Err(err).Str("interaction_id", id).Msg("sweep flush failed")
				continue
			}
			if rec != nil {
				flushed++
				log.Info().Str("interaction_id", id).Int("events", rec.EventCount()).Msg("orphaned interaction flushed")
			}
		}
		cursor = next
		if cursor == 0 {
			return flushed, nil
		}
	}
}
