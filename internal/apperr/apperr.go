// Package apperr defines the error-kind taxonomy shared across the
// orchestrator. Components never panic on business errors; they return a
// structured *apperr.Error and let the caller (the engine's error-router,
// the dispatch layer, ...) decide how to proceed, mirroring the teacher's
// no-panic tool-error convention.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories named in the spec. Kinds are not
// Go types: every apperr.Error carries exactly one Kind plus a message and
// optional cause, so callers can switch on Kind without a type assertion
// per error variant.
type Kind string

const (
	Forbidden                 Kind = "forbidden"
	SuspectedInjection        Kind = "suspected_injection"
	NotFound                  Kind = "not_found"
	Conflict                  Kind = "conflict"
	InvalidState              Kind = "invalid_state"
	ConcurrentUpdate          Kind = "concurrent_update"
	OrphanedIntake            Kind = "orphaned_intake"
	StoreUnavailable          Kind = "store_unavailable"
	ProviderUnavailable       Kind = "provider_unavailable"
	RetryExhausted            Kind = "retry_exhausted"
	TimedOut                  Kind = "timed_out"
	BudgetExceeded            Kind = "budget_exceeded"
	EmbeddingDimensionMismatch Kind = "embedding_dimension_mismatch"
	Cancelled                 Kind = "cancelled"
	Internal                  Kind = "internal"
)

// Error is the structured error type returned by every component. The
// Message field is safe to show to an end user; Cause, when present, is for
// logs only and must never be serialized to a user-visible surface.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Wrap builds an *Error around cause, attributing it to kind. Use this to
// turn a low-level store/provider error into a user-safe structured error
// without leaking the underlying message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Cause: cause}
}

// KindOf extracts the Kind from err. It returns the empty Kind if err is
// nil, and Internal if err neither is nor wraps an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
