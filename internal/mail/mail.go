// Package mail renders and sends the transactional emails behind notifications.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"talentlink/internal/config"
)

// Message is one rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a rendered email. Implementations must honor ctx cancellation where the
// transport allows it.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the mailer selected by cfg.Provider.
func New(cfg config.MailConfig, logger *slog.Logger) (Mailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "", "log":
		return LogMailer{Logger: logger}, nil
	case "smtp":
		return &SMTPMailer{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.From,
			Timeout:  cfg.Timeout,
		}, nil
	case "http":
		return NewHTTPMailer(cfg.HTTP.Endpoint, cfg.HTTP.APIKey, cfg.From, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
}

// ValidAddress reports whether addr is a single syntactically valid email address.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" || !strings.Contains(addr, "@") {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// LogMailer logs the email instead of sending it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.HTML))
	return nil
}
