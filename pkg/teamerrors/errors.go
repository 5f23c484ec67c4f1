// Package teamerrors defines the closed error taxonomy surfaced across the
// coordination substrate (store, team registry, task engine, inbox,
// spawner) and mapped to the coordinator's error envelope.
package teamerrors

import (
	"errors"
	"fmt"
)

// Kind is one of a fixed set of error categories. Coordinator callers
// switch on Kind rather than matching error strings.
type Kind string

const (
	InvalidArg        Kind = "invalid_arg"
	InvalidName       Kind = "invalid_name"
	NotFound          Kind = "not_found"
	Exists            Kind = "exists"
	Busy              Kind = "busy"
	Cycle             Kind = "cycle"
	UnknownTemplate   Kind = "unknown_template"
	IllegalTransition Kind = "illegal_transition"
	Spawn             Kind = "spawn"
	Storage           Kind = "storage"
	Timeout           Kind = "timeout"
)

// Error is a domain error tagged with a Kind. It wraps an optional
// underlying cause so callers can still errors.Is/errors.As through it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around an underlying cause,
// recording op as the failing operation for context.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

// KindOf reports the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
