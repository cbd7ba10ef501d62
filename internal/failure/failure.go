// Package failure defines the error taxonomy shared by the provider gateway, the snapshot store,
// and the tracking services. Handlers map a Kind to a transport status in one place.
package failure

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure by how callers must react to it.
type Kind string

const (
	// KindInvalidInput is a malformed username or day-count; rejected before any I/O.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound means the provider has no such (public) account. Never retried.
	KindNotFound Kind = "not_found"
	// KindRateLimited is provider throttling. Terminal for the current batch run.
	KindRateLimited Kind = "rate_limited"
	// KindTransient is a network or provider fault, including call timeouts.
	KindTransient Kind = "transient"
	// KindStorage is an append or read failure in the snapshot store.
	KindStorage Kind = "storage_failure"
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Sentinels for errors.Is checks against a *Error of the same kind.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("account not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient provider error")
	ErrStorage      = errors.New("storage failure")
)

// Error is a classified failure. Op names the operation ("fetch", "append", "history").
type Error struct {
	Kind     Kind
	Op       string
	Username string
	// RetryAfter is the provider's suggested back-off for KindRateLimited; zero if unknown.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Username != "" {
		msg += " (" + e.Username + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransient
	case KindStorage:
		return ErrStorage
	}
	return nil
}

// InvalidInput returns a KindInvalidInput error with a formatted reason.
func InvalidInput(op, username, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Username: username, Err: fmt.Errorf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(op, username string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Username: username, Err: err}
}

// RateLimited returns a KindRateLimited error carrying the provider's retry-after hint.
func RateLimited(op, username string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Username: username, RetryAfter: retryAfter, Err: err}
}

// Transient returns a KindTransient error.
func Transient(op, username string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Username: username, Err: err}
}

// Storage returns a KindStorage error wrapping the underlying store error.
func Storage(op, username string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Username: username, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Retryable reports whether a failure of this kind may be retried within the same run.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
