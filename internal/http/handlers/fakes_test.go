package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
	"github.com/tbourn/go-edge-state/internal/services"
)

var errBoom = errors.New("boom")

type fakeOnboarding struct {
	prepareIn  services.PrepareInput
	prepareRes services.PrepareResult
	prepareErr error

	sentTo  string
	sendOut string
	sendErr error

	verifyCookie string
	verifyOut    string
	verifyErr    error
}

func (f *fakeOnboarding) Prepare(_ context.Context, in services.PrepareInput) (services.PrepareResult, error) {
	f.prepareIn = in
	return f.prepareRes, f.prepareErr
}

func (f *fakeOnboarding) SendCode(_ context.Context, email string) (string, error) {
	f.sentTo = email
	return f.sendOut, f.sendErr
}

func (f *fakeOnboarding) VerifyCode(_ context.Context, _, _, cookie string) (string, error) {
	f.verifyCookie = cookie
	return f.verifyOut, f.verifyErr
}

type fakeAudit struct {
	id      string
	gotID   string
	gotEvts []string
	err     error
}

func (f *fakeAudit) StartInteraction() string { return f.id }

func (f *fakeAudit) Record(_ context.Context, id string, events []string) error {
	f.gotID, f.gotEvts = id, events
	return f.err
}

type fakeRecords struct {
	list     []domain.FlushRecord
	rec      *domain.FlushRecord
	err      error
	page     int
	pageSize int
}

func (f *fakeRecords) List(_ context.Context, _ string, page, pageSize int) ([]domain.FlushRecord, int64, error) {
	f.page, f.pageSize = page, pageSize
	return f.list, int64(len(f.list)), f.err
}

func (f *fakeRecords) Get(context.Context, string) (*domain.FlushRecord, error) {
	return f.rec, f.err
}

func limitedErr(window time.Duration) error {
	return &services.RateLimitError{Decision: ratelimit.Decision{
		Reason:     ratelimit.ReasonLimited,
		Dimension:  cache.DimEmail,
		RetryAfter: window,
	}}
}
