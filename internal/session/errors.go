package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell bad input from bad
// credentials from an unreachable remote.
type Kind string

const (
	KindUnknown           Kind = ""
	KindAuthentication    Kind = "AUTHENTICATION_ERROR"
	KindConnection        Kind = "CONNECTION_ERROR"
	KindValidation        Kind = "VALIDATION_ERROR"
	KindRecoveryExhausted Kind = "RECOVERY_EXHAUSTED"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrConnection        = &Error{Kind: KindConnection}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrRecoveryExhausted = &Error{Kind: KindRecoveryExhausted}
)

// Error is the typed failure returned by the session core and everything
// built on it.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "start" or "list_apps".
	Op  string
	Msg string
	// Attempts is set by the executor once it gives up.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// AuthenticationError reports that the remote rejected the identity or that
// no session artifact could be extracted after login.
func AuthenticationError(op, msg string, err error) *Error {
	return newError(KindAuthentication, op, msg, err)
}

// ConnectionError reports a transport failure, a timeout or an unreachable remote.
func ConnectionError(op, msg string, err error) *Error {
	return newError(KindConnection, op, msg, err)
}

// ValidationError reports malformed input. It is never retried.
func ValidationError(op, msg string) *Error {
	return newError(KindValidation, op, msg, nil)
}

// RecoveryExhaustedError reports that the recovery path itself failed.
func RecoveryExhaustedError(op string, err error) *Error {
	return newError(KindRecoveryExhausted, op, "session recovery failed", err)
}

// KindOf returns the kind of the outermost *Error in err's chain. Context
// errors count as connection failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindConnection
	}
	return KindUnknown
}

// classify wraps err into the taxonomy, keeping an existing kind and treating
// anything unrecognised as a connection failure.
func classify(op string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return ConnectionError(op, "", err)
}
