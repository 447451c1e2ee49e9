package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned when session parameters are out of range.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrUnknownRole is returned when a role id cannot be resolved.
	ErrUnknownRole = errors.New("unknown role")
	// ErrBudgetExceeded marks a session halted because its cost budget ran out.
	ErrBudgetExceeded = errors.New("cost budget exceeded")
	// ErrTransientCall matches retryable responder failures.
	ErrTransientCall = errors.New("transient call failure")
	// ErrPermanentCall matches non-retryable responder failures.
	ErrPermanentCall = errors.New("permanent call failure")
	// ErrConfirmationDeclined is returned when the required confirmation step was refused.
	ErrConfirmationDeclined = errors.New("confirmation declined")
	// ErrSessionNotFound is returned by snapshot stores for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAllRolesFailed marks a session halted because no role produced a turn in a round.
	ErrAllRolesFailed = errors.New("all roles failed")
	// ErrRejected marks a session halted by a lifecycle hook.
	ErrRejected = errors.New("rejected by hook")
)

// ErrorKind classifies responder failures.
type ErrorKind string

const (
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindTransport      ErrorKind = "transport"
	ErrorKindServer         ErrorKind = "server"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindUnauthorized   ErrorKind = "unauthorized"
	ErrorKindCanceled       ErrorKind = "canceled"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// CallError is the error shape returned by Responder implementations.
// Retryable is the only signal the scheduler uses to decide whether an
// attempt may be repeated.
type CallError struct {
	Kind       ErrorKind
	Retryable  bool
	StatusCode int
	Err        error
	// Usage carries tokens consumed by a failed attempt, when the provider reports them.
	Usage TokenUsage
}

// NewTransientError wraps err as a retryable CallError.
func NewTransientError(kind ErrorKind, err error) *CallError {
	return &CallError{Kind: kind, Retryable: true, Err: err}
}

// NewPermanentError wraps err as a non-retryable CallError.
func NewPermanentError(kind ErrorKind, err error) *CallError {
	return &CallError{Kind: kind, Retryable: false, Err: err}
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error { return e.Err }

// Is maps a CallError onto ErrTransientCall or ErrPermanentCall.
func (e *CallError) Is(target error) bool {
	switch target {
	case ErrTransientCall:
		return e.Retryable
	case ErrPermanentCall:
		return !e.Retryable
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable CallError. Errors that are
// not CallErrors are treated as permanent.
func IsRetryable(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}

	return false
}

// AsCallError converts an arbitrary responder error into a CallError. Context
// deadline errors become retryable timeouts, cancellation becomes a permanent
// canceled error, anything else is kept permanent.
func AsCallError(err error) *CallError {
	if err == nil {
		return nil
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(ErrorKindTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewPermanentError(ErrorKindCanceled, err)
	default:
		return NewPermanentError(ErrorKindUnknown, err)
	}
}
