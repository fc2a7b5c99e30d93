package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/observability"
)

// ExpiredPattern matches expiry keyevent channels of every logical database.
const ExpiredPattern = "__keyevent@*__:expired"

// Watcher defaults.
const (
	DefaultConcurrency    = 8
	DefaultFlushTimeout   = 30 * time.Second
	DefaultReconnectFloor = 100 * time.Millisecond
	DefaultReconnectCeil  = 10 * time.Second
)

// Subscriber is the slice of the Redis client the watcher needs.
type Subscriber interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Watcher turns timer expiry notifications into flushes.
type Watcher struct {
	Client  Subscriber
	Keys    cache.Keyspace
	Flusher Flusher

	Concurrency    int           // max flushes in flight
	FlushTimeout   time.Duration // per flush, detached from Run's context
	ReconnectFloor time.Duration
	ReconnectCeil  time.Duration
}

// NewWatcher returns a Watcher with default concurrency and backoff.
func NewWatcher(c Subscriber, keys cache.Keyspace, f Flusher) *Watcher {
	return &Watcher{
		Client:         c,
		Keys:           keys,
		Flusher:        f,
		Concurrency:    DefaultConcurrency,
		FlushTimeout:   DefaultFlushTimeout,
		ReconnectFloor: DefaultReconnectFloor,
		ReconnectCeil:  DefaultReconnectCeil,
	}
}

// Run subscribes and dispatches flushes until ctx is done. Transport errors
// trigger a resubscribe with exponential backoff; Run only returns once ctx
// is canceled and every dispatched flush has finished.
func (w *Watcher) Run(ctx context.Context) error {
	conc := w.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	floor, ceil := w.ReconnectFloor, w.ReconnectCeil
	if floor <= 0 {
		floor = DefaultReconnectFloor
	}
	if ceil < floor {
		ceil = floor
	}

	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	defer wg.Wait()

	attempt := 0
	for r := retry.New(floor, ceil); r.Wait(ctx); {
		if attempt > 0 {
			observability.WatcherReconnects.Inc()
		}
		attempt++

		err := w.consume(ctx, r, sem, &wg)
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Msg("expiry subscription lost; resubscribing")
	}
	log.Info().Msg("expiry watcher stopped")
	return nil
}

// consume holds one subscription until it fails or ctx is done.
func (w *Watcher) consume(ctx context.Context, r *retry.Retrier, sem chan struct{}, wg *sync.WaitGroup) error {
	ps := w.Client.PSubscribe(ctx, ExpiredPattern)
	defer ps.Close()
	// ReceiveMessage blocks on the socket and ignores ctx; closing the
	// subscription is what unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.Reset()
	log.Info().Str("pattern", ExpiredPattern).Msg("expiry watcher subscribed")

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		id, ok := w.Keys.ParseTimerKey(msg.Payload)
		if !ok {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		wg.Add(1)
		observability.FlushesInFlight.Inc()
		go func() {
			defer func() {
				observability.FlushesInFlight.Dec()
				<-sem
				wg.Done()
			}()
			w.flush(ctx, id)
		}()
	}
}

// flush runs detached from ctx so shutdown does not abandon events that were
// already read out of the cache.
func (w *Watcher) flush(ctx context.Context, id string) {
	timeout := w.FlushTimeout
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	rec, err := w.Flusher.Flush(fctx, id)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		log.Error().Err(err).Str("interaction_id", id).Msg("flush failed")
	case rec != nil:
		log.Info().
			Str("interaction_id", id).
			Int("events", rec.EventCount()).
			Bool("fallback", rec.Fallback).
			Msg("interaction flushed")
	}
}
