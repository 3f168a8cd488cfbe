// Package email sends operational notifications over SMTP.
package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/gatherhq/messaging-api/internal/model"
)

// Sender delivers broadcast lifecycle notifications. Implementations must be
// safe for concurrent use.
type Sender interface {
	SendBroadcastSummary(ctx context.Context, b *model.Broadcast) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// NotifyTo receives broadcast completion summaries.
	NotifyTo string
}

type smtpSender struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

func NewSMTPSender(cfg Config) Sender {
	return &smtpSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.NotifyTo,
	}
}

func (s *smtpSender) SendBroadcastSummary(ctx context.Context, b *model.Broadcast) error {
	if s.to == "" {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to)
	m.SetHeader("Subject", fmt.Sprintf("Broadcast %q finished: %s", b.Name, b.Status))
	m.SetBody("text/plain", fmt.Sprintf(
		"Broadcast %s (%s) finished with status %s.\n\nRecipients: %d\nSent: %d\nDelivered: %d\nRead: %d\nFailed: %d\n",
		b.Name, b.ID, b.Status, b.TotalRecipients, b.SentCount, b.DeliveredCount, b.ReadCount, b.FailedCount,
	))

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send broadcast summary: %w", err)
		}
		return nil
	}
}

// NoopSender discards notifications. Used when SMTP is not configured.
type NoopSender struct{}

func (NoopSender) SendBroadcastSummary(context.Context, *model.Broadcast) error { return nil }
