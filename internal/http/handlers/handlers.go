// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers consume and the
// Handlers type that groups the endpoints:
//
//   - POST {base}/onboarding/preparation    visitor identity + budgets
//   - POST {base}/onboarding/email/code     send a one-time code
//   - POST {base}/onboarding/email/verify   verify a one-time code
//   - POST {base}/audit/init                start an interaction
//   - POST {base}/audit/batch               buffer interaction events
//   - GET  {base}/audit/interactions/:id/records
//   - GET  {base}/audit/records/:id
//
// Handlers are transport-thin: they read cookies and bodies, call services,
// and translate results into cookies, JSON and status codes.
package handlers

import (
	"context"

	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/services"
)

// OnboardingService resolves visitor identity and runs e-mail verification.
type OnboardingService interface {
	Prepare(ctx context.Context, in services.PrepareInput) (services.PrepareResult, error)
	SendCode(ctx context.Context, email string) (string, error)
	VerifyCode(ctx context.Context, email, code, cookie string) (string, error)
}

// AuditService starts interactions and buffers their events.
type AuditService interface {
	StartInteraction() string
	Record(ctx context.Context, interactionID string, events []string) error
}

// RecordService reads persisted flush records.
type RecordService interface {
	List(ctx context.Context, interactionID string, page, pageSize int) ([]domain.FlushRecord, int64, error)
	Get(ctx context.Context, id string) (*domain.FlushRecord, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	onboarding OnboardingService
	audit      AuditService
	records    RecordService

	// Cookies sets cookie lifetimes; New installs DefaultCookies.
	Cookies CookieConfig
}

// New constructs a Handlers instance bound to the given services.
func New(onboarding OnboardingService, audit AuditService, records RecordService) *Handlers {
	return &Handlers{
		onboarding: onboarding,
		audit:      audit,
		records:    records,
		Cookies:    DefaultCookies,
	}
}
