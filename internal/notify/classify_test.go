package notify

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	twilioclient "github.com/twilio/twilio-go/client"
)

func TestClassifyHeuristicTable(t *testing.T) {
	tests := []struct {
		msg  string
		want Class
	}{
		{"Service not configured for this account", ClassConfig},
		{"Invalid API key provided", ClassConfig},
		{"535 5.7.8 Authentication credentials invalid", ClassConfig},
		{"dial tcp: lookup smtp.example.invalid: no such host", ClassConfig},
		{"x509: certificate signed by unknown authority", ClassConfig},
		{"550 5.1.1 Mailbox unavailable", ClassRejected},
		{"recipient rejected: user unknown", ClassRejected},
		{"The 'To' number is not a valid phone number", ClassRejected},
		{"message flagged as spam", ClassRejected},
		{"553 sender address not allowed", ClassRejected},
		{"i/o timeout", ClassTransient},
		{"Temporary failure, try again later", ClassTransient},
		{"429 Too Many Requests", ClassTransient},
		{"dial tcp 10.0.0.1:587: connect: connection refused", ClassTransient},
		{"unexpected EOF", ClassTransient},
		{"451 4.3.0 local error in processing", ClassTransient},
		{"Temporary authentication failure", ClassTransient},
		{"454 4.7.0 Temporary authentication failure", ClassTransient},
		{"authentication failed: connection reset by peer", ClassTransient},
		{"554 5.7.1 relay access denied", ClassRejected},
		{"something nobody has seen before", ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyPrefersStructuredErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		// the text alone would read as transient
		{"delivery error", deliveryError(ChannelEmail, ClassRejected, errors.New("timeout")), ClassRejected},
		{"not configured", fmt.Errorf("send: %w", ErrNotConfigured), ClassConfig},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), ClassTransient},
		{"smtp auth", &textproto.Error{Code: 535, Msg: "try again"}, ClassConfig},
		{"smtp mailbox", &textproto.Error{Code: 550, Msg: "timeout"}, ClassRejected},
		{"smtp greylist", &textproto.Error{Code: 450, Msg: "user unknown"}, ClassTransient},
		{"twilio auth", &twilioclient.TwilioRestError{Status: 401, Message: "timeout"}, ClassConfig},
		{"twilio throttled", &twilioclient.TwilioRestError{Status: 429}, ClassTransient},
		{"twilio bad number", &twilioclient.TwilioRestError{Status: 400, Code: 21211}, ClassRejected},
		{"twilio outage", fmt.Errorf("create message: %w", &twilioclient.TwilioRestError{Status: 503}), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOnlyTransientIsRetryable(t *testing.T) {
	if !ClassTransient.Retryable() || ClassRejected.Retryable() || ClassConfig.Retryable() {
		t.Fatal("only transient failures should be retryable")
	}
}
