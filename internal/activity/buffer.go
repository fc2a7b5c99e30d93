package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/observability"
)

var (
	// ErrEmptyBatch is returned when Append receives no events.
	ErrEmptyBatch = errors.New("activity: empty event batch")

	// ErrInvalidInteractionID is returned for ids that are empty, too long,
	// or could escape the key or file namespace.
	ErrInvalidInteractionID = errors.New("activity: invalid interaction id")
)

// MaxInteractionIDLen bounds interaction ids; it matches the record column.
const MaxInteractionIDLen = 128

// ValidateInteractionID rejects ids that would break key parsing or the
// markdown sink's file naming.
func ValidateInteractionID(id string) error {
	switch {
	case id == "", len(id) > MaxInteractionIDLen:
		return ErrInvalidInteractionID
	case strings.ContainsAny(id, `:/\`), strings.Contains(id, ".."):
		return ErrInvalidInteractionID
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidInteractionID
		}
	}
	return nil
}

// Buffer appends events to interaction logs and arms their inactivity timer.
type Buffer struct {
	Client redis.Cmdable
	Keys   cache.Keyspace
	Window time.Duration
}

// NewBuffer returns a Buffer whose timers expire after window of inactivity.
func NewBuffer(c redis.Cmdable, keys cache.Keyspace, window time.Duration) *Buffer {
	return &Buffer{Client: c, Keys: keys, Window: window}
}

// Append pushes events (in order) and resets the timer in one transaction, so
// a timer never exists without the events that armed it.
func (b *Buffer) Append(ctx context.Context, interactionID string, events []string) error {
	if err := ValidateInteractionID(interactionID); err != nil {
		return err
	}
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	vals := make([]any, len(events))
	for i, e := range events {
		vals[i] = e
	}
	eventsKey := b.Keys.Events(interactionID)
	timerKey := b.Keys.Timer(interactionID)

	_, err := b.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, eventsKey, vals...)
		pipe.Set(ctx, timerKey, "1", b.Window)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("interaction_id", interactionID).Int("events", len(events)).Msg("activity append failed")
		return fmt.Errorf("activity: append: %w", err)
	}
	observability.ActivityAppends.Add(float64(len(events)))
	return nil
}
