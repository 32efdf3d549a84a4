// Package mailer delivers verification emails.
package mailer

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"
)

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailgunSender sends through the Mailgun HTTP API.
type MailgunSender struct {
	mg   *mailgun.MailgunImpl
	from string
}

// NewMailgunSender creates a MailgunSender. apiBase may be empty for the
// default (US) region.
func NewMailgunSender(domain, apiKey, apiBase, from string) *MailgunSender {
	mg := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		mg.SetAPIBase(apiBase)
	}
	return &MailgunSender{mg: mg, from: from}
}

// Send implements Sender.
func (s *MailgunSender) Send(ctx context.Context, to, subject, body string) error {
	msg := s.mg.NewMessage(s.from, subject, body, to)
	if _, _, err := s.mg.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. Only for
// development: the body contains the plaintext code.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email (not delivered)")
	return nil
}
