package activity

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-edge-state/internal/observability"
)

func newTestPipeline(t *testing.T, s Summarizer, sink Sink) (*Pipeline, *Buffer, *quartz.Mock) {
	t.Helper()
	_, rdb := newRedis(t)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	p := NewPipeline(rdb, testKeys, s, sink)
	p.Clock = clock
	return p, NewBuffer(rdb, testKeys, time.Minute), clock
}

func TestFlush_SummarizesAndDrains(t *testing.T) {
	sum := &fakeSummarizer{out: "  The user clicked and scrolled.\n"}
	sink := &memSink{}
	p, b, _ := newTestPipeline(t, sum, sink)
	ctx := context.Background()

	if err := b.Append(ctx, "abc", []string{"click", "scroll"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec, err := p.Flush(ctx, "abc")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record")
	}
	if rec.Summary != "The user clicked and scrolled." || rec.Fallback {
		t.Fatalf("summary = %q fallback=%v", rec.Summary, rec.Fallback)
	}
	if strings.Join(rec.Events, ",") != "click,scroll" {
		t.Fatalf("events = %v", rec.Events)
	}
	if rec.InteractionID != "abc" || len(rec.ID) != 36 {
		t.Fatalf("ids: %+v", rec)
	}
	if !rec.FlushedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("flushed_at = %s", rec.FlushedAt)
	}
	if sum.gotID != "abc" || sum.gotLen != 2 {
		t.Fatalf("summarizer saw id=%q n=%d", sum.gotID, sum.gotLen)
	}
	if got := sink.records(); len(got) != 1 || got[0] != rec {
		t.Fatalf("sink records = %v", got)
	}
	if n, _ := p.Client.Exists(ctx, testKeys.Events("abc")).Result(); n != 0 {
		t.Fatalf("event log not deleted")
	}
}

func TestFlush_EmptyLogIsNoop(t *testing.T) {
	sink := &memSink{}
	p, _, _ := newTestPipeline(t, &fakeSummarizer{out: "x"}, sink)

	before := testutil.ToFloat64(observability.ActivityFlushes.WithLabelValues(observability.FlushEmpty))
	rec, err := p.Flush(context.Background(), "nothing")
	if err != nil || rec != nil {
		t.Fatalf("rec=%v err=%v", rec, err)
	}
	if len(sink.records()) != 0 {
		t.Fatalf("sink must stay empty")
	}
	after := testutil.ToFloat64(observability.ActivityFlushes.WithLabelValues(observability.FlushEmpty))
	if after != before+1 {
		t.Fatalf("empty flush metric: %v -> %v", before, after)
	}
}

func TestFlush_FallbackOnSummarizerFailure(t *testing.T) {
	cases := map[string]Summarizer{
		"error":  &fakeSummarizer{err: errBoom},
		"blank":  &fakeSummarizer{out: "   "},
		"absent": nil,
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			p, b, _ := newTestPipeline(t, s, &memSink{})
			ctx := context.Background()
			_ = b.Append(ctx, "abc", []string{"click", "scroll"})

			rec, err := p.Flush(ctx, "abc")
			if err != nil || rec == nil {
				t.Fatalf("rec=%v err=%v", rec, err)
			}
			if !rec.Fallback || rec.Summary != FallbackSummary([]string{"click", "scroll"}) {
				t.Fatalf("expected fallback, got %q", rec.Summary)
			}
		})
	}
}

func TestFlush_CapsSummarizerInputOnly(t *testing.T) {
	sum := &fakeSummarizer{out: "ok"}
	p, b, _ := newTestPipeline(t, sum, &memSink{})
	p.SummaryMaxEvents = 3
	ctx := context.Background()

	events := make([]string, 10)
	for i := range events {
		events[i] = fmt.Sprintf("e%d", i)
	}
	_ = b.Append(ctx, "abc", events)

	rec, err := p.Flush(ctx, "abc")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if sum.gotLen != 3 {
		t.Fatalf("summarizer got %d events, want 3", sum.gotLen)
	}
	if rec.EventCount() != 10 {
		t.Fatalf("record kept %d events, want 10", rec.EventCount())
	}
}

func TestFlush_SinkFailureIsAbsorbed(t *testing.T) {
	p, b, _ := newTestPipeline(t, &fakeSummarizer{out: "ok"}, &memSink{err: errBoom})
	ctx := context.Background()
	_ = b.Append(ctx, "abc", []string{"click"})

	before := testutil.ToFloat64(observability.ActivityFlushes.WithLabelValues(observability.FlushPersistFailed))
	rec, err := p.Flush(ctx, "abc")
	if err != nil || rec == nil {
		t.Fatalf("rec=%v err=%v", rec, err)
	}
	after := testutil.ToFloat64(observability.ActivityFlushes.WithLabelValues(observability.FlushPersistFailed))
	if after != before+1 {
		t.Fatalf("persist_failed metric: %v -> %v", before, after)
	}
}

func TestFlush_CacheErrorReturned(t *testing.T) {
	mr, rdb := newRedis(t)
	p := NewPipeline(rdb, testKeys, nil, &memSink{})
	mr.Close()

	if _, err := p.Flush(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error with cache down")
	}
}
