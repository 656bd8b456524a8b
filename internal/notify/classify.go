package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// heuristic maps a lower-case substring of a provider message to a class.
type heuristic struct {
	substr string
	class  Class
}

// Matched in order, first hit wins. Provider wording changes without
// notice, so this table is only consulted when the error carries nothing
// structured. Transient phrases come first: "temporary authentication
// failure" must stay retryable.
var heuristics = []heuristic{
	{"timeout", ClassTransient},
	{"timed out", ClassTransient},
	{"temporar", ClassTransient},
	{"try again", ClassTransient},
	{"rate limit", ClassTransient},
	{"too many requests", ClassTransient},
	{"connection refused", ClassTransient},
	{"connection reset", ClassTransient},
	{"eof", ClassTransient},
	{"421 ", ClassTransient},
	{"450 ", ClassTransient},
	{"451 ", ClassTransient},

	{"not configured", ClassConfig},
	{"invalid api key", ClassConfig},
	{"invalid credentials", ClassConfig},
	{"authentication", ClassConfig},
	{"unauthorized", ClassConfig},
	{"permission denied", ClassConfig},
	{"no such host", ClassConfig},
	{"certificate", ClassConfig},

	{"mailbox unavailable", ClassRejected},
	{"user unknown", ClassRejected},
	{"invalid recipient", ClassRejected},
	{"invalid address", ClassRejected},
	{"not a valid phone number", ClassRejected},
	{"unsubscribed", ClassRejected},
	{"blacklist", ClassRejected},
	{"spam", ClassRejected},
	{"550 ", ClassRejected},
	{"553 ", ClassRejected},
}

// Classify sorts a delivery error into a Class. Unrecognized errors are
// treated as transient so they get their bounded retries.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var delivery *DeliveryError
	if errors.As(err, &delivery) && delivery.Class != "" {
		return delivery.Class
	}
	if errors.Is(err, ErrNotConfigured) {
		return ClassConfig
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return classifySMTPCode(smtpErr.Code)
	}

	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return classifyTwilio(restErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return classifyText(err.Error())
}

func classifySMTPCode(code int) Class {
	switch {
	case code == 530 || code == 534 || code == 535:
		return ClassConfig
	case code >= 500:
		return ClassRejected
	case code >= 400:
		return ClassTransient
	}
	return ClassTransient
}

func classifyTwilio(err *twilioclient.TwilioRestError) Class {
	switch {
	case err.Status == 401 || err.Status == 403:
		return ClassConfig
	case err.Status == 429 || err.Status >= 500:
		return ClassTransient
	case err.Status >= 400:
		return ClassRejected
	}
	return classifyText(err.Message)
}

func classifyText(msg string) Class {
	msg = strings.ToLower(strings.TrimSpace(msg))
	if code, ok := leadingReplyCode(msg); ok {
		return classifySMTPCode(code)
	}
	for _, h := range heuristics {
		if strings.Contains(msg, h.substr) {
			return h.class
		}
	}
	return ClassTransient
}

// leadingReplyCode reads a 4xx or 5xx status that opens msg, as in
// "454 4.7.0 Temporary authentication failure".
func leadingReplyCode(msg string) (int, bool) {
	if len(msg) < 3 || (len(msg) > 3 && msg[3] != ' ' && msg[3] != '-') {
		return 0, false
	}
	code, err := strconv.Atoi(msg[:3])
	if err != nil || code < 400 || code > 599 {
		return 0, false
	}
	return code, true
}
