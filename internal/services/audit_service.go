// Package services – AuditService
//
// This file implements the request-path side of interaction auditing:
// minting interaction ids and appending event batches to the cache buffer.
// Flushing happens elsewhere, when the buffer's inactivity timer expires.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-edge-state/internal/activity"
)

// EventAppender buffers events; *activity.Buffer implements it.
type EventAppender interface {
	Append(ctx context.Context, interactionID string, events []string) error
}

// AuditService validates and buffers interaction events.
type AuditService struct {
	Buffer EventAppender
	// MaxBatch caps the events accepted per call; <= 0 disables the cap.
	MaxBatch int
	// NewID mints interaction ids.
	NewID func() string
}

// NewAuditService constructs an AuditService with uuid interaction ids.
func NewAuditService(b EventAppender, maxBatch int) *AuditService {
	return &AuditService{Buffer: b, MaxBatch: maxBatch, NewID: uuid.NewString}
}

// StartInteraction returns a fresh interaction id.
func (s *AuditService) StartInteraction() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

// Record appends events to the interaction's buffer and re-arms its
// inactivity timer.
func (s *AuditService) Record(ctx context.Context, interactionID string, events []string) error {
	tr := otel.Tracer("services/AuditService")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("interaction.id", interactionID),
			attribute.Int("activity.events", len(events)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		return ErrEmptyBatch
	}
	if s.MaxBatch > 0 && len(events) > s.MaxBatch {
		return ErrBatchTooLarge
	}
	if err := activity.ValidateInteractionID(interactionID); err != nil {
		return ErrInvalidInteraction
	}

	err := s.Buffer.Append(ctx, interactionID, events)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, activity.ErrEmptyBatch):
		return ErrEmptyBatch
	case errors.Is(err, activity.ErrInvalidInteractionID):
		return ErrInvalidInteraction
	default:
		span.RecordError(err)
		return unavailable(err)
	}
}
