package notify

import (
	"net/url"
	"strings"
)

// Fallback is a pre-addressed message an operator can send by hand when
// automated delivery failed.
type Fallback struct {
	Channel   Channel `json:"channel"`
	To        string  `json:"to"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	MailtoURL string  `json:"mailto_url,omitempty"`
}

// NewFallback builds the manual remediation payload for one message.
// Email fallbacks carry a mailto: link with subject and body filled in.
func NewFallback(channel Channel, to, subject, body string) Fallback {
	f := Fallback{Channel: channel, To: to, Subject: subject, Body: body}
	if channel == ChannelEmail {
		f.MailtoURL = MailtoURL(to, subject, body)
	}
	return f
}

// MailtoURL renders an RFC 6068 mailto link.
func MailtoURL(to, subject, body string) string {
	query := "subject=" + escape(subject) + "&body=" + escape(body)
	return "mailto:" + url.PathEscape(to) + "?" + query
}

// url.QueryEscape encodes spaces as '+', which mail clients show verbatim.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
