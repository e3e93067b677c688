// Package apperr classifies domain errors into the kinds the API surface maps to
// status codes and localized messages.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindWindowExpired     Kind = "window_expired"
	KindUnauthorized      Kind = "unauthorized"
	KindDependencyFailure Kind = "dependency_failure"
	KindInternal          Kind = "internal"
)

// Error pairs a kind and a message key with the underlying error.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Validation builds an ad-hoc validation error for input checks that do not
// warrant a package-level sentinel.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Err: errors.New(msg)}
}

// Dependency wraps a collaborator failure.
func Dependency(code string, err error) *Error {
	return &Error{Kind: KindDependencyFailure, Code: code, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the message key of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e != nil && e.Code != "" {
		return e.Code
	}
	return "common.internal_error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
