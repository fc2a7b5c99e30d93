package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/observability"
)

// Summarizer turns an interaction's events into prose. Implementations may
// be slow or fail; the pipeline falls back either way.
type Summarizer interface {
	Summarize(ctx context.Context, interactionID string, events []string) (string, error)
}

// Sink stores flush records. Append must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec *domain.FlushRecord) error
}

// Flusher is what the watcher and sweeper drive.
type Flusher interface {
	Flush(ctx context.Context, interactionID string) (*domain.FlushRecord, error)
}

// DefaultSummaryMaxEvents caps the events handed to the summarizer.
const DefaultSummaryMaxEvents = 200

// Pipeline flushes one interaction at a time: read, delete, summarize,
// persist.
type Pipeline struct {
	Client     redis.Cmdable
	Keys       cache.Keyspace
	Summarizer Summarizer // nil means always use FallbackSummary
	Sink       Sink
	Clock      quartz.Clock

	// SummaryMaxEvents bounds the summarizer input. The record keeps every
	// event regardless.
	SummaryMaxEvents int
}

// NewPipeline wires a Pipeline with the real clock and default cap.
func NewPipeline(c redis.Cmdable, keys cache.Keyspace, s Summarizer, sink Sink) *Pipeline {
	return &Pipeline{
		Client:           c,
		Keys:             keys,
		Summarizer:       s,
		Sink:             sink,
		Clock:            quartz.NewReal(),
		SummaryMaxEvents: DefaultSummaryMaxEvents,
	}
}

// Flush drains the event log of interactionID. An empty log is a no-op and
// returns (nil, nil). Cache errors are returned; the summarizer and the sink
// never fail the flush, so a non-nil record means the events left the cache.
//
// Reading and deleting are separate commands: events appended between them
// are dropped. Moving both into a script would close that window.
func (p *Pipeline) Flush(ctx context.Context, interactionID string) (rec *domain.FlushRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "activity", "Flush",
		attribute.String("interaction.id", interactionID))
	defer func() { observability.EndSpan(span, err) }()

	key := p.Keys.Events(interactionID)
	events, err := p.Client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		observability.ActivityFlushes.WithLabelValues(observability.FlushCacheError).Inc()
		return nil, fmt.Errorf("activity: read events: %w", err)
	}
	if len(events) == 0 {
		observability.ActivityFlushes.WithLabelValues(observability.FlushEmpty).Inc()
		return nil, nil
	}
	if err := p.Client.Del(ctx, key).Err(); err != nil {
		observability.ActivityFlushes.WithLabelValues(observability.FlushCacheError).Inc()
		return nil, fmt.Errorf("activity: delete events: %w", err)
	}
	span.SetAttributes(attribute.Int("activity.events", len(events)))

	summary, fallback := p.summarize(ctx, interactionID, events)
	rec = &domain.FlushRecord{
		ID:            uuid.NewString(),
		InteractionID: interactionID,
		FlushedAt:     p.now(),
		Summary:       summary,
		Events:        events,
		Fallback:      fallback,
	}

	if p.Sink != nil {
		if serr := p.Sink.Append(ctx, rec); serr != nil {
			observability.ActivityFlushes.WithLabelValues(observability.FlushPersistFailed).Inc()
			log.Error().Err(serr).
				Str("interaction_id", interactionID).
				Int("events", len(events)).
				Msg("flush record not persisted")
			return rec, nil
		}
	}
	observability.ActivityFlushes.WithLabelValues(observability.FlushPersisted).Inc()
	return rec, nil
}

func (p *Pipeline) summarize(ctx context.Context, interactionID string, events []string) (string, bool) {
	if p.Summarizer == nil {
		observability.SummaryFallbacks.Inc()
		return FallbackSummary(events), true
	}

	in := events
	if max := p.SummaryMaxEvents; max > 0 && len(in) > max {
		in = in[:max]
	}
	s, err := p.Summarizer.Summarize(ctx, interactionID, in)
	if err == nil {
		s = strings.TrimSpace(s)
	}
	if err != nil || s == "" {
		log.Warn().Err(err).Str("interaction_id", interactionID).Msg("summarizer unavailable; using fallback summary")
		observability.SummaryFallbacks.Inc()
		return FallbackSummary(events), true
	}
	return s, false
}

func (p *Pipeline) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock.Now().UTC()
}
