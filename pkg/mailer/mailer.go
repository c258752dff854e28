package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bookstore-payments/pkg/httpclient"
)

const sendTimeout = 8 * time.Second

type Email struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// APISender posts to a transactional mail HTTP API.
type APISender struct {
	url    string
	apiKey string
	from   string
	http   *httpclient.Client
}

func NewAPISender(url, apiKey, from string) *APISender {
	return &APISender{url: url, apiKey: apiKey, from: from, http: httpclient.NewClient(sendTimeout)}
}

func (s *APISender) Send(ctx context.Context, email Email) error {
	if email.From == "" {
		email.From = s.from
	}
	resp, err := s.http.PostJSON(ctx, s.url, email, map[string]string{"Authorization": "Bearer " + s.apiKey})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("send email: mail api returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender only logs; used when no mail API is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, email Email) error {
	slog.Info("Email not sent, no mail API configured", "to", email.To, "subject", email.Subject)
	return nil
}

// New picks the API sender when a URL is configured.
func New(url, apiKey, from string) Sender {
	if url == "" {
		return LogSender{}
	}
	return NewAPISender(url, apiKey, from)
}
