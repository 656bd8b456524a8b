package notify

import (
	"context"
	"errors"
	"net/mail"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPSender builds a sender. A sender without a host still works; every
// Send then fails as a config error so the failure gets a manual fallback.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	if cfg.Host != "" {
		s.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return s
}

// Send delivers one plain-text message.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) error {
	if s.dialer == nil || s.cfg.From == "" {
		return deliveryError(ChannelEmail, ClassConfig, ErrNotConfigured)
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return deliveryError(ChannelEmail, ClassRejected, errors.New("invalid recipient address"))
	}
	if err := ctx.Err(); err != nil {
		return deliveryError(ChannelEmail, ClassTransient, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return deliveryError(ChannelEmail, ClassTransient, ctx.Err())
	}
}
