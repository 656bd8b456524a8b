// Package notify delivers notification messages and classifies delivery
// failures.
//
// Senders return structured errors where the provider gives us something
// structured. Classify inspects those first and falls back to matching the
// error text against a heuristic table only when nothing else is known.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Channel names a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Sender is the delivery capability.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Class groups delivery failures by what to do about them.
type Class string

const (
	// ClassConfig means the channel itself is misconfigured; retrying is
	// pointless until an operator fixes it.
	ClassConfig Class = "config-error"
	// ClassRejected means the provider refused this message or recipient.
	ClassRejected Class = "rejected"
	// ClassTransient means a retry may succeed.
	ClassTransient Class = "transient"
)

// Retryable reports whether another attempt may succeed.
func (c Class) Retryable() bool {
	return c == ClassTransient
}

// ErrNotConfigured is returned by senders missing credentials or a host.
var ErrNotConfigured = errors.New("delivery channel not configured")

// DeliveryError is a failure whose class the sender already knows.
type DeliveryError struct {
	Class   Class
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func deliveryError(channel Channel, class Class, err error) error {
	return &DeliveryError{Class: class, Channel: channel, Err: err}
}
