package notify

import (
	"context"
	"errors"
	"regexp"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// SMSConfig holds Twilio credentials.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Configured reports whether SMS delivery can be attempted at all.
func (c SMSConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// SMSSender delivers text messages through Twilio. The subject is
// prepended to the body.
type SMSSender struct {
	from   string
	client *twilio.RestClient
}

// NewSMSSender builds a sender, or returns nil when cfg is incomplete.
func NewSMSSender(cfg SMSConfig) *SMSSender {
	if !cfg.Configured() {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{from: cfg.From, client: client}
}

// Send delivers one message to an E.164 phone number.
func (s *SMSSender) Send(ctx context.Context, recipient, subject, body string) error {
	if s == nil || s.client == nil {
		return deliveryError(ChannelSMS, ClassConfig, ErrNotConfigured)
	}
	if !e164.MatchString(recipient) {
		return deliveryError(ChannelSMS, ClassRejected, errors.New("not a valid phone number"))
	}
	if err := ctx.Err(); err != nil {
		return deliveryError(ChannelSMS, ClassTransient, err)
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(s.from)
	params.SetBody(subject + ": " + body)

	done := make(chan error, 1)
	go func() {
		_, err := s.client.Api.CreateMessage(params)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return deliveryError(ChannelSMS, ClassTransient, ctx.Err())
	}
}
