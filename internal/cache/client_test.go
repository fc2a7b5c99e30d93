package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/tbourn/go-edge-state/internal/config"
)

func TestNewClient_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewClient(context.Background(), config.RedisConfig{
		URL:         "redis://" + mr.Addr() + "/0",
		PoolSize:    3,
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	if rdb.Options().PoolSize != 3 {
		t.Fatalf("pool size = %d; want 3", rdb.Options().PoolSize)
	}
	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value = %q", got)
	}
}

func TestNewClient_Errors(t *testing.T) {
	if _, err := NewClient(context.Background(), config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatalf("expected parse error")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewClient(context.Background(), config.RedisConfig{
		URL:         "redis://" + addr,
		DialTimeout: 200 * time.Millisecond,
	}); err == nil {
		t.Fatalf("expected ping error against a closed server")
	}
}

func TestMergeNotifyFlags(t *testing.T) {
	cases := map[string]string{
		"":     "Ex",
		"Ex":   "Ex",
		"KA":   "KAE",
		"AE":   "AE",
		"Kg":   "KgEx",
		"Egx$": "Egx$",
	}
	for in, want := range cases {
		if got := mergeNotifyFlags(in); got != want {
			t.Fatalf("mergeNotifyFlags(%q) = %q; want %q", in, got, want)
		}
	}
}
