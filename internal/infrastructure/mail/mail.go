// Package mail sends notification emails over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	gomail "github.com/go-mail/mail"

	"github.com/devilmonastery/passgate/internal/config"
)

const defaultSubject = "passgate notification"

// dialer is the part of *gomail.Dialer the sender needs
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender delivers plain text notifications to email channels
type Sender struct {
	from    string
	subject string
	dialer  dialer
	log     *slog.Logger
}

// NewSender builds an SMTP sender from configuration
func NewSender(cfg config.SMTPConfig) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	if cfg.Port == 465 {
		d.SSL = true
	}
	return &Sender{
		from:    cfg.From,
		subject: defaultSubject,
		dialer:  d,
		log:     slog.Default().With(slog.String("component", "smtp_sender")),
	}
}

// WithSubject returns a copy of the sender using subject for every message
func (s *Sender) WithSubject(subject string) *Sender {
	c := *s
	c.subject = subject
	return &c
}

// Deliver sends text to the address destinationID
func (s *Sender) Deliver(ctx context.Context, destinationID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(destinationID))
	if err != nil {
		return fmt.Errorf("invalid email destination %q: %w", destinationID, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", addr.Address)
	m.SetHeader("Subject", s.subject)
	m.SetBody("text/plain", text)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.log.Error("smtp send failed", slog.String("to", addr.Address), slog.String("error", err.Error()))
		return fmt.Errorf("smtp send: %w", err)
	}

	s.log.Info("email sent", slog.String("to", addr.Address))
	return nil
}
