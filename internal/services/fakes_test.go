package services

import (
	"context"
	"sync"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/clients"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
)

// ----- Fake guard -----

type fakeGuard struct {
	mu    sync.Mutex
	rules []ratelimit.Rule
	// deny rejects the first rule of this dimension.
	deny   cache.Dimension
	reason ratelimit.Reason
}

func (g *fakeGuard) Check(_ context.Context, rules ...ratelimit.Rule) ratelimit.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range rules {
		if r.Identity == "" {
			continue
		}
		g.rules = append(g.rules, r)
		if r.Dimension == g.deny {
			reason := g.reason
			if reason == "" {
				reason = ratelimit.ReasonLimited
			}
			return ratelimit.Decision{Allowed: false, Reason: reason, Dimension: r.Dimension}
		}
	}
	return ratelimit.Decision{Allowed: true}
}

func (g *fakeGuard) dims() []cache.Dimension {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]cache.Dimension, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.Dimension
	}
	return out
}

// ----- Fake code store -----

type fakeCodes struct {
	nonce, code string
	issueErr    error
	consumeErr  error

	consumed map[string]bool
}

func (c *fakeCodes) Issue(context.Context) (string, string, error) {
	if c.issueErr != nil {
		return "", "", c.issueErr
	}
	return c.nonce, c.code, nil
}

func (c *fakeCodes) Consume(_ context.Context, nonce, code string) (bool, error) {
	if c.consumeErr != nil {
		return false, c.consumeErr
	}
	if c.consumed == nil {
		c.consumed = map[string]bool{}
	}
	if nonce != c.nonce || code != c.code || c.consumed[nonce] {
		return false, nil
	}
	c.consumed[nonce] = true
	return true, nil
}

// ----- Fake mailer -----

type fakeMailer struct {
	sent []clients.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg clients.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// ----- Fake appender -----

type fakeAppender struct {
	id     string
	events []string
	err    error
}

func (a *fakeAppender) Append(_ context.Context, id string, events []string) error {
	a.id, a.events = id, events
	return a.err
}
