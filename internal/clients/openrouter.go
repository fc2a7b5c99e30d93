// Package clients holds the outbound HTTP integrations: the OpenRouter
// chat-completions summarizer and the mailers used for one-time codes.
//
// Clients return errors and never retry; callers decide whether to fall back
// (the flush pipeline always does).
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-edge-state/internal/config"
	"github.com/tbourn/go-edge-state/internal/observability"
)

// ErrNoChoices is returned when a completion carries no usable message.
var ErrNoChoices = errors.New("openrouter: no choices returned")

// summarySystemPrompt steers the model toward short audit-log prose.
const summarySystemPrompt = `You write short, fluent summaries of user interactions for internal audit logs.
- Use simple, clear English (B1–B2 level).
- Past tense; 3–6 sentences total.
- Group similar actions; avoid duplicates and noise.
- Infer the user's goal when clear, but do not invent facts.
- If the user asked questions, include them as: The user asked: "…".
- Do NOT include IDs or internal metadata in the prose.`

const (
	summaryTemperature = 0.2
	summaryMaxTokens   = 300

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// ChatMessage is one message of a chat-completions exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// OpenRouter calls the OpenRouter chat-completions API.
type OpenRouter struct {
	HTTP    *http.Client
	APIKey  string
	BaseURL string // e.g. https://openrouter.ai/api/v1
	Model   string
	AppName string // sent as X-Title when set

	// MaxEvents bounds the events named in the prompt; 0 means no cap.
	MaxEvents int
}

// NewOpenRouter builds a client from cfg.
func NewOpenRouter(cfg config.SummarizerConfig, maxEvents int) *OpenRouter {
	return &OpenRouter{
		HTTP:      &http.Client{Timeout: cfg.Timeout},
		APIKey:    cfg.APIKey,
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		Model:     cfg.Model,
		AppName:   cfg.AppName,
		MaxEvents: maxEvents,
	}
}

// Chat performs one completion and returns the first choice's text.
func (c *OpenRouter) Chat(ctx context.Context, msgs []ChatMessage, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    msgs,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.AppName != "" {
		req.Header.Set("X-Title", c.AppName)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("openrouter failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openrouter: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrNoChoices
	}
	return out.Choices[0].Message.Content, nil
}

// Summarize implements activity.Summarizer.
func (c *OpenRouter) Summarize(ctx context.Context, interactionID string, events []string) (summary string, err error) {
	ctx, span := observability.StartSpan(ctx, "clients", "OpenRouter.Summarize",
		attribute.String("interaction.id", interactionID),
		attribute.Int("activity.events", len(events)),
		attribute.String("llm.model", c.Model),
	)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	summary, err = c.Chat(ctx, []ChatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: SummaryPrompt(interactionID, events, c.MaxEvents)},
	}, summaryTemperature, summaryMaxTokens)
	span.SetAttributes(attribute.Int64("llm.latency_ms", time.Since(start).Milliseconds()))
	return strings.TrimSpace(summary), err
}

// SummaryPrompt renders the user message for a summary request. Events
// beyond max are dropped and the prompt says so.
func SummaryPrompt(interactionID string, events []string, max int) string {
	note := ""
	if max > 0 && len(events) > max {
		events = events[:max]
		note = fmt.Sprintf(" (truncated to first %d events)", max)
	}
	return fmt.Sprintf("Create a brief summary for interaction_id: %s%s\nEvents:\n- %s",
		interactionID, note, strings.Join(events, "\n- "))
}

func (c *OpenRouter) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
