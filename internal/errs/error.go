package errs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Error is a kind-tagged error with a message safe to show to clients.
// Cause is kept for logs only.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

// New returns an error of the given kind with a client-facing message.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches an internal cause to a client-facing error.
func Wrap(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string { return e.Msg }

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Aborted reports a rolled back ledger unit without telling which statement failed.
func Aborted(cause error) *Error {
	return Wrap(ErrAborted, "transaction could not be applied", cause)
}

// LockedError is returned while a principal is locked out.
type LockedError struct {
	Minutes int
}

// Locked builds a LockedError for the remaining lock duration, rounded up to whole minutes.
func Locked(remaining time.Duration) *LockedError {
	return &LockedError{Minutes: int(math.Ceil(remaining.Minutes()))}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minute(s)", e.Minutes)
}

func (e *LockedError) Unwrap() error { return ErrUnauthorized }

// Message returns the client-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	var l *LockedError
	if errors.As(err, &l) {
		return l.Error()
	}
	return err.Error()
}
