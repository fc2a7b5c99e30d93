package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-edge-state/internal/config"
)

// Message is an outbound e-mail. Either body may be empty.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	HTTP      *http.Client
	APIKey    string
	BaseURL   string // https://api.sendgrid.com
	FromEmail string
	FromName  string
	ReplyTo   string
}

// NewSendGrid builds a mailer from cfg.
func NewSendGrid(cfg config.MailConfig) *SendGrid {
	return &SendGrid{
		HTTP:      &http.Client{Timeout: cfg.Timeout},
		APIKey:    cfg.APIKey,
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		ReplyTo:   cfg.ReplyTo,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To      []sgAddress `json:"to"`
	Subject string      `json:"subject,omitempty"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Content          []sgContent         `json:"content"`
}

// Send posts msg to /v3/mail/send. SendGrid answers 202 on success.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	mail := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}, Subject: msg.Subject}},
		From:             sgAddress{Email: s.FromEmail, Name: s.FromName},
	}
	if s.ReplyTo != "" {
		mail.ReplyTo = &sgAddress{Email: s.ReplyTo}
	}
	if msg.Text != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/html", Value: msg.HTML})
	}
	if len(mail.Content) == 0 {
		mail.Content = []sgContent{{Type: "text/plain", Value: ""}}
	}

	body, err := json.Marshal(mail)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("sendgrid failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. It is the
// development default when no SendGrid key is configured.
type LogMailer struct{}

// Send logs msg at info level.
func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("text", msg.Text).
		Msg("mail not sent (no mailer configured)")
	return nil
}
