package common

import (
	"errors"
	"fmt"
)

// Kind classifies protocol failures so callers can distinguish malformed
// input from missing permissions, conflicting state and failed sub-calls.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindExternal:
		return "external_call_failure"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every settlement operation.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String() + " error"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. When the target carries a
// reason, the reasons must match as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrState         = &Error{Kind: KindState}
	ErrExternalCall  = &Error{Kind: KindExternal}

	ErrPaused     = StateError("paused")
	ErrReentrant  = StateError("reentrant call")
	ErrNotAdmin   = AuthorizationError("caller is not the administrator")
	ErrNotAllowed = AuthorizationError("caller is not an authorized reporter")
)

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func AuthorizationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Reason: fmt.Sprintf(format, args...)}
}

func StateError(format string, args ...any) *Error {
	return &Error{Kind: KindState, Reason: fmt.Sprintf(format, args...)}
}

// ExternalCallFailure wraps the error returned by a delegated transfer or
// route provider call.
func ExternalCallFailure(reason string, err error) *Error {
	return &Error{Kind: KindExternal, Reason: reason, Err: err}
}

// KindOf extracts the protocol error kind, or KindUnknown for operational
// failures such as storage errors.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}
