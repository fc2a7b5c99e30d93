package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/domain"
)

var testKeys = cache.Keyspace{RateNamespace: "rl", ActivityPrefix: "audit", OTPPrefix: "otp"}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// memSink collects records in memory.
type memSink struct {
	mu   sync.Mutex
	recs []*domain.FlushRecord
	err  error
}

func (s *memSink) Append(_ context.Context, rec *domain.FlushRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) records() []*domain.FlushRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.FlushRecord(nil), s.recs...)
}

// fakeSummarizer records its input and returns a canned answer.
type fakeSummarizer struct {
	mu     sync.Mutex
	out    string
	err    error
	gotID  string
	gotLen int
}

func (f *fakeSummarizer) Summarize(_ context.Context, id string, events []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotID, f.gotLen = id, len(events)
	return f.out, f.err
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}
