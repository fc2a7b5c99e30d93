package services

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/config"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
	"github.com/tbourn/go-edge-state/internal/token"
)

func newOnboarding(t *testing.T) (*OnboardingService, *fakeGuard, *fakeCodes, *fakeMailer) {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	g := &fakeGuard{}
	codes := &fakeCodes{nonce: strings.Repeat("ab", 32), code: "012345"}
	m := &fakeMailer{}
	rate := config.RateConfig{Window: time.Minute, VisitorLimit: 10, InstallLimit: 10, IPLimit: 100, EmailLimit: 5}
	s := NewOnboardingService(g, codec, codes, m, rate, 10*time.Minute)
	s.NewID = func() string { return "visitor-1" }
	s.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, g, codes, m
}

func TestPrepare_IssuesCookieAndChargesAllBudgets(t *testing.T) {
	s, g, _, _ := newOnboarding(t)

	res, err := s.Prepare(context.Background(), PrepareInput{
		InstallID: "inst-1",
		ClientIP:  netip.MustParseAddr("203.0.113.7"),
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.VisitorID != "visitor-1" || res.SetCookie == "" {
		t.Fatalf("result = %+v", res)
	}
	if id, ok := s.Codec.Decode(res.SetCookie); !ok || id != "visitor-1" {
		t.Fatalf("issued cookie decodes to %q ok=%v", id, ok)
	}
	got := g.dims()
	want := []cache.Dimension{cache.DimVisitor, cache.DimInstall, cache.DimIP}
	if len(got) != len(want) {
		t.Fatalf("dims = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dims = %v, want %v", got, want)
		}
	}
	if g.rules[2].Identity != "203.0.113.0/24" || g.rules[2].Limit != 100 {
		t.Fatalf("ip rule = %+v", g.rules[2])
	}
}

func TestPrepare_ReusesValidCookie(t *testing.T) {
	s, _, _, _ := newOnboarding(t)
	cookie := s.Codec.Encode("existing")

	res, err := s.Prepare(context.Background(), PrepareInput{VisitorCookie: cookie, InstallID: "inst"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.VisitorID != "existing" || res.SetCookie != "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPrepare_TamperedCookieIsReissued(t *testing.T) {
	s, _, _, _ := newOnboarding(t)
	cookie := s.Codec.Encode("existing") + "x"

	res, err := s.Prepare(context.Background(), PrepareInput{VisitorCookie: cookie, InstallID: "inst"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.VisitorID != "visitor-1" || res.SetCookie == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPrepare_SkipsIPWithoutAddress(t *testing.T) {
	s, g, _, _ := newOnboarding(t)
	if _, err := s.Prepare(context.Background(), PrepareInput{InstallID: "inst"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(g.dims()) != 2 {
		t.Fatalf("dims = %v", g.dims())
	}
}

func TestPrepare_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		deny   cache.Dimension
		reason ratelimit.Reason
	}{
		{"visitor limited", cache.DimVisitor, ratelimit.ReasonLimited},
		{"install limited", cache.DimInstall, ratelimit.ReasonLimited},
		{"cache down", cache.DimVisitor, ratelimit.ReasonCacheError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, g, _, _ := newOnboarding(t)
			g.deny, g.reason = tc.deny, tc.reason

			_, err := s.Prepare(context.Background(), PrepareInput{InstallID: "inst", ClientIP: netip.MustParseAddr("10.0.0.1")})
			if !errors.Is(err, ErrRateLimited) {
				t.Fatalf("err = %v", err)
			}
			d, ok := IsRateLimited(err)
			if !ok || d.Dimension != tc.deny || d.Reason != tc.reason {
				t.Fatalf("decision = %+v", d)
			}
			if dims := g.dims(); dims[len(dims)-1] != tc.deny {
				t.Fatalf("later budgets were charged: %v", dims)
			}
		})
	}
}

func TestPrepare_MissingInstallID(t *testing.T) {
	s, _, _, _ := newOnboarding(t)
	if _, err := s.Prepare(context.Background(), PrepareInput{InstallID: "  "}); !errors.Is(err, ErrMissingInstallID) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendAndVerifyCode(t *testing.T) {
	s, g, codes, m := newOnboarding(t)
	ctx := context.Background()

	cookie, err := s.SendCode(ctx, "  User@Example.COM ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].To != "user@example.com" {
		t.Fatalf("sent = %+v", m.sent)
	}
	if !strings.Contains(m.sent[0].Text, "012345") || !strings.Contains(m.sent[0].Text, "10 minutes") {
		t.Fatalf("text body = %q", m.sent[0].Text)
	}
	if !strings.Contains(m.sent[0].HTML, "012345") {
		t.Fatalf("html body missing code")
	}
	if g.rules[0].Dimension != cache.DimEmail || g.rules[0].Limit != 5 {
		t.Fatalf("email rule = %+v", g.rules[0])
	}

	if _, err := s.VerifyCode(ctx, "user@example.com", "999999", cookie); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code err = %v", err)
	}
	verified, err := s.VerifyCode(ctx, "USER@example.com", codes.code, cookie)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if addr, ok := s.Codec.Decode(verified); !ok || addr != "user@example.com" {
		t.Fatalf("verified cookie = %q ok=%v", addr, ok)
	}
	if _, err := s.VerifyCode(ctx, "user@example.com", codes.code, cookie); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replay err = %v", err)
	}
}

func TestVerifyCode_RejectsForeignOrTamperedCookie(t *testing.T) {
	s, _, codes, _ := newOnboarding(t)
	ctx := context.Background()
	cookie, err := s.SendCode(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	flip := "A"
	if strings.HasSuffix(cookie, "A") {
		flip = "B"
	}
	cases := map[string]struct{ email, cookie string }{
		"other address": {"b@example.com", cookie},
		"tampered":      {"a@example.com", cookie[:len(cookie)-1] + flip},
		"empty":         {"a@example.com", ""},
		"unbound":       {"a@example.com", s.Codec.Encode(codes.nonce)},
	}
	for name, tc := range cases {
		if _, err := s.VerifyCode(ctx, tc.email, codes.code, tc.cookie); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestSendCode_Failures(t *testing.T) {
	t.Run("invalid email", func(t *testing.T) {
		s, _, _, _ := newOnboarding(t)
		for _, e := range []string{"", "nope", "Name <a@example.com>", "a@example.com extra"} {
			if _, err := s.SendCode(context.Background(), e); !errors.Is(err, ErrInvalidEmail) {
				t.Fatalf("%q: err = %v", e, err)
			}
		}
	})
	t.Run("limited", func(t *testing.T) {
		s, g, _, m := newOnboarding(t)
		g.deny = cache.DimEmail
		if _, err := s.SendCode(context.Background(), "a@example.com"); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("err = %v", err)
		}
		if len(m.sent) != 0 {
			t.Fatalf("mail sent despite limit")
		}
	})
	t.Run("store down", func(t *testing.T) {
		s, _, codes, _ := newOnboarding(t)
		codes.issueErr = errors.New("dial tcp: refused")
		if _, err := s.SendCode(context.Background(), "a@example.com"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("mailer down", func(t *testing.T) {
		s, _, _, m := newOnboarding(t)
		m.err = errors.New("503")
		if _, err := s.SendCode(context.Background(), "a@example.com"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestVerifyCode_StoreDown(t *testing.T) {
	s, _, codes, _ := newOnboarding(t)
	cookie, _ := s.SendCode(context.Background(), "a@example.com")
	codes.consumeErr = errors.New("dial tcp: refused")

	if _, err := s.VerifyCode(context.Background(), "a@example.com", codes.code, cookie); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"a@example.com":        "a@example.com",
		" A.B@Example.Com ":    "a.b@example.com",
		"first+tag@sub.EX.org": "first+tag@sub.ex.org",
	}
	for in, want := range cases {
		got, err := NormalizeEmail(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeEmail(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeEmail(strings.Repeat("a", 250) + "@x.io"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("overlong address accepted")
	}
}
