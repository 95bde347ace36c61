package sshexec

import (
	"errors"
	"fmt"
)

// Kind classifies why an attempt failed. Every kind is a plain attempt
// failure to the scheduler; the kind only matters for reporting.
type Kind int

const (
	KindRelayUnreachable Kind = iota
	KindAuthRejected
	KindConnectionDropped
	KindTimeout
	KindExitNonZero
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindRelayUnreachable:
		return "relay unreachable"
	case KindAuthRejected:
		return "auth rejected"
	case KindConnectionDropped:
		return "connection dropped"
	case KindTimeout:
		return "timeout"
	case KindExitNonZero:
		return "non-zero exit"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error is an attempt failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errKind(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification from an attempt error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
