// Package services defines the business logic for onboarding and interaction
// auditing. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-edge-state/internal/ratelimit"
)

// Request validation errors.
var (
	// ErrInvalidEmail is returned when an address does not parse as a bare
	// e-mail address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrMissingInstallID is returned when a preparation request carries no
	// install id.
	ErrMissingInstallID = errors.New("install id is required")

	// ErrInvalidInteraction is returned for interaction ids the cache layout
	// cannot hold.
	ErrInvalidInteraction = errors.New("invalid interaction id")

	// ErrEmptyBatch is returned when an event batch is empty.
	ErrEmptyBatch = errors.New("event batch is empty")

	// ErrBatchTooLarge is returned when an event batch exceeds the configured cap.
	ErrBatchTooLarge = errors.New("event batch too large")
)

// Outcome errors.
var (
	// ErrRateLimited indicates a request was refused by a rate-limit rule.
	// The concrete error is a *RateLimitError carrying the decision.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidCode is returned when a one-time code, or the cookie binding it
	// to the session, does not verify.
	ErrInvalidCode = errors.New("invalid or expired code")

	// ErrUnavailable wraps failures of the cache, the mailer, or other
	// collaborators the request cannot proceed without.
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrRecordNotFound is returned when a flush record lookup matches nothing.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordsDisabled is returned by record lookups when no database is
	// configured.
	ErrRecordsDisabled = errors.New("record storage disabled")
)

// RateLimitError reports which rule rejected a request.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s, %s)", e.Decision.Dimension, e.Decision.Reason)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// unavailable wraps err so errors.Is(x, ErrUnavailable) holds.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
