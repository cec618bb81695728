// Package apperr classifies failures into the kinds the CLI reacts to.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kind implements error so callers can match a
// classified error with errors.Is(err, apperr.NotFound).
type Kind uint8

const (
	Unknown Kind = iota
	MissingCredentials
	StoreUnavailable
	AuthExpired
	ConsentIncomplete
	NotFound
	RateLimited
	Unavailable
	Malformed
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	MissingCredentials: "missing credentials",
	StoreUnavailable:   "credential store unavailable",
	AuthExpired:        "authentication expired",
	ConsentIncomplete:  "consent incomplete",
	NotFound:           "not found",
	RateLimited:        "rate limited",
	Unavailable:        "service unavailable",
	Malformed:          "malformed response",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string { return k.String() }

// Transient reports whether a retry with backoff may succeed.
func (k Kind) Transient() bool {
	return k == RateLimited || k == Unavailable
}

// Fatal reports whether the failure aborts the whole invocation rather than
// the single institution or account being processed.
func (k Kind) Fatal() bool {
	switch k {
	case MissingCredentials, StoreUnavailable, AuthExpired:
		return true
	}
	return false
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // e.g. "get requisition"
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

// New wraps err as a classified failure of op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified failure from a message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}
