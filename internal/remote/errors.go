package remote

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failed remote call.
type Kind string

const (
	// KindUnreachable means the store could not be contacted. Retry.
	KindUnreachable Kind = "unreachable"
	// KindRejected means the store refused the write. Never retry.
	KindRejected Kind = "rejected"
	// KindUnknown means the outcome is unknown, e.g. a timeout. Retry with
	// backoff, escalating after the policy's limit.
	KindUnknown Kind = "unknown"
)

// Error carries a failure kind through wrapping.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Unreachable(err error) error { return &Error{Kind: KindUnreachable, Err: err} }
func Rejected(err error) error    { return &Error{Kind: KindRejected, Err: err} }
func Unknown(err error) error     { return &Error{Kind: KindUnknown, Err: err} }

// Rejectedf builds a Rejected error from a format string.
func Rejectedf(format string, args ...any) error {
	return Rejected(fmt.Errorf(format, args...))
}

// KindOf returns the failure kind of err. Failed dials are Unreachable,
// anything else unclassified is Unknown, and nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindUnreachable
	}
	return KindUnknown
}
