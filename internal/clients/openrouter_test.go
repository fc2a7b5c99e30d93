package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-edge-state/internal/config"
)

func TestSummaryPrompt(t *testing.T) {
	got := SummaryPrompt("abc", []string{"click", "scroll"}, 200)
	want := "Create a brief summary for interaction_id: abc\nEvents:\n- click\n- scroll"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}

	got = SummaryPrompt("abc", []string{"a", "b", "c"}, 2)
	if !strings.Contains(got, "(truncated to first 2 events)") || strings.Contains(got, "- c") {
		t.Fatalf("truncation not applied: %q", got)
	}
}

func TestSummarize_RequestShapeAndResult(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/chat/completions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("X-Title") != "edge" {
			t.Errorf("headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  The user clicked.  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenRouter(config.SummarizerConfig{
		APIKey: "k", BaseURL: srv.URL + "/api/v1/", Model: "m", AppName: "edge", Timeout: time.Second,
	}, 200)
	s, err := c.Summarize(context.Background(), "abc", []string{"click"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s != "The user clicked." {
		t.Fatalf("summary = %q", s)
	}
	if got.Model != "m" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("request = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 || got.MaxTokens == nil || *got.MaxTokens != 300 {
		t.Fatalf("sampling params = %v %v", got.Temperature, got.MaxTokens)
	}
}

func TestSummarize_Errors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota", http.StatusTooManyRequests)
		},
		"no choices": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			c := &OpenRouter{BaseURL: srv.URL, APIKey: "k", Model: "m"}
			if _, err := c.Summarize(context.Background(), "abc", []string{"x"}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSummarize_NoChoicesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	c := &OpenRouter{BaseURL: srv.URL}
	if _, err := c.Summarize(context.Background(), "abc", nil); !errors.Is(err, ErrNoChoices) {
		t.Fatalf("err = %v", err)
	}
}

func TestSummarize_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := &OpenRouter{HTTP: &http.Client{Timeout: 50 * time.Millisecond}, BaseURL: srv.URL}
	if _, err := c.Summarize(context.Background(), "abc", []string{"x"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}
