// Package services – OnboardingService
//
// This file implements the pre-authentication flow of a client:
//
//   - Prepare reads (or mints) the signed visitor identity and charges the
//     visitor, install and IP-bucket budgets before the client may continue.
//   - SendCode charges the e-mail budget, stores a one-time code under a
//     random nonce and mails it; the nonce travels back to the client inside
//     a signed cookie value.
//   - VerifyCode checks that cookie and consumes the code, returning a signed
//     value carrying the verified address.
//
// Rate-limit rejections (including an unreachable cache, which always
// rejects) surface as *RateLimitError. Cache and mailer failures surface as
// ErrUnavailable.
package services

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/clients"
	"github.com/tbourn/go-edge-state/internal/config"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
	"github.com/tbourn/go-edge-state/internal/token"
)

// RateChecker evaluates rate-limit rules; *ratelimit.Guard implements it.
type RateChecker interface {
	Check(ctx context.Context, rules ...ratelimit.Rule) ratelimit.Decision
}

// CodeStore issues and consumes one-time codes; *otp.Store implements it.
type CodeStore interface {
	Issue(ctx context.Context) (nonce, code string, err error)
	Consume(ctx context.Context, nonce, code string) (bool, error)
}

// Mailer delivers verification mail.
type Mailer interface {
	Send(ctx context.Context, msg clients.Message) error
}

// OnboardingService coordinates visitor identity, rate limits and e-mail
// verification.
type OnboardingService struct {
	Guard  RateChecker
	Codec  *token.Codec
	Codes  CodeStore
	Mailer Mailer
	Rate   config.RateConfig

	// CodeTTL is only used to phrase the mail; the store enforces expiry.
	CodeTTL time.Duration
	// NewID mints visitor ids.
	NewID func() string
	// Now stamps the mail footer.
	Now func() time.Time
}

// NewOnboardingService constructs an OnboardingService with uuid visitor ids.
func NewOnboardingService(g RateChecker, codec *token.Codec, codes CodeStore, m Mailer, rate config.RateConfig, codeTTL time.Duration) *OnboardingService {
	return &OnboardingService{
		Guard:   g,
		Codec:   codec,
		Codes:   codes,
		Mailer:  m,
		Rate:    rate,
		CodeTTL: codeTTL,
		NewID:   uuid.NewString,
		Now:     time.Now,
	}
}

// PrepareInput carries what the preparation route extracted from a request.
type PrepareInput struct {
	VisitorCookie string     // raw cookie value, may be empty or tampered
	InstallID     string     // client-generated install id
	ClientIP      netip.Addr // zero when unknown
}

// PrepareResult is the outcome of a successful preparation.
type PrepareResult struct {
	VisitorID string
	// SetCookie is the value to store in the visitor cookie; empty when the
	// presented cookie was valid.
	SetCookie string
}

// Prepare resolves the visitor identity and charges, in order, the visitor,
// install and IP-bucket budgets. The first rejecting rule wins and later
// budgets are not charged.
func (s *OnboardingService) Prepare(ctx context.Context, in PrepareInput) (PrepareResult, error) {
	tr := otel.Tracer("services/OnboardingService")
	ctx, span := tr.Start(ctx, "Prepare")
	defer span.End()

	installID := strings.TrimSpace(in.InstallID)
	if installID == "" {
		return PrepareResult{}, ErrMissingInstallID
	}

	visitorID, issued := s.Codec.ReadOrIssue(in.VisitorCookie, s.NewID)
	span.SetAttributes(attribute.Bool("visitor.issued", issued != ""))

	bucket := ""
	if in.ClientIP.IsValid() {
		bucket = ratelimit.IPBucket(in.ClientIP)
	}

	d := s.Guard.Check(ctx,
		s.rule(cache.DimVisitor, visitorID, s.Rate.VisitorLimit),
		s.rule(cache.DimInstall, installID, s.Rate.InstallLimit),
		s.rule(cache.DimIP, bucket, s.Rate.IPLimit),
	)
	if !d.Allowed {
		return PrepareResult{}, &RateLimitError{Decision: d}
	}
	return PrepareResult{VisitorID: visitorID, SetCookie: issued}, nil
}

// SendCode mails a fresh one-time code to email and returns the signed
// cookie value binding the code's nonce to that address.
func (s *OnboardingService) SendCode(ctx context.Context, email string) (string, error) {
	tr := otel.Tracer("services/OnboardingService")
	ctx, span := tr.Start(ctx, "SendCode")
	defer span.End()

	addr, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if d := s.Guard.Check(ctx, s.rule(cache.DimEmail, "send:"+addr, s.Rate.EmailLimit)); !d.Allowed {
		return "", &RateLimitError{Decision: d}
	}

	nonce, code, err := s.Codes.Issue(ctx)
	if err != nil {
		span.RecordError(err)
		return "", unavailable(err)
	}

	msg := clients.Message{
		To:      addr,
		Subject: codeSubject,
		Text:    codeText(code, s.CodeTTL),
		HTML:    codeHTML(code, s.CodeTTL, s.now().Year()),
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("verification mail not sent")
		return "", unavailable(err)
	}
	return s.Codec.Encode(bindNonce(nonce, addr)), nil
}

// VerifyCode checks code against the nonce carried by cookie. The cookie must
// have been issued for the same address. On success it returns the signed
// value carrying the verified address.
func (s *OnboardingService) VerifyCode(ctx context.Context, email, code, cookie string) (string, error) {
	tr := otel.Tracer("services/OnboardingService")
	ctx, span := tr.Start(ctx, "VerifyCode", trace.WithAttributes(attribute.Bool("cookie.present", cookie != "")))
	defer span.End()

	addr, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if d := s.Guard.Check(ctx, s.rule(cache.DimEmail, "verify:"+addr, s.Rate.EmailLimit)); !d.Allowed {
		return "", &RateLimitError{Decision: d}
	}

	payload, ok := s.Codec.Decode(cookie)
	if !ok {
		return "", ErrInvalidCode
	}
	nonce, bound, ok := unbindNonce(payload)
	if !ok || bound != addr {
		return "", ErrInvalidCode
	}

	valid, err := s.Codes.Consume(ctx, nonce, strings.TrimSpace(code))
	if err != nil {
		span.RecordError(err)
		return "", unavailable(err)
	}
	if !valid {
		return "", ErrInvalidCode
	}
	return s.Codec.Encode(addr), nil
}

func (s *OnboardingService) rule(dim cache.Dimension, identity string, limit int) ratelimit.Rule {
	return ratelimit.Rule{Dimension: dim, Identity: identity, Limit: limit, Window: s.Rate.Window}
}

func (s *OnboardingService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// bindNonce joins a hex nonce and an address; the nonce never contains "|".
func bindNonce(nonce, addr string) string { return nonce + "|" + addr }

func unbindNonce(payload string) (nonce, addr string, ok bool) {
	nonce, addr, ok = strings.Cut(payload, "|")
	if !ok || nonce == "" || addr == "" {
		return "", "", false
	}
	return nonce, addr, true
}

// IsRateLimited extracts the decision from a rate-limit error.
func IsRateLimited(err error) (ratelimit.Decision, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Decision, true
	}
	return ratelimit.Decision{}, false
}
