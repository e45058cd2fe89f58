// Package errs defines the typed error kinds shared by every layer of the
// server. Lower layers return these; the MCP dispatcher is the only place
// that converts them into protocol responses.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies an error category. The string value doubles as the
// machine-readable error code surfaced to clients.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindConfiguration     Kind = "CONFIGURATION_ERROR"
	KindAuthentication    Kind = "AUTHENTICATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	KindDatabase          Kind = "DATABASE_ERROR"
	KindInitialization    Kind = "INITIALIZATION_ERROR"
	KindCancelled         Kind = "CANCELLED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Error is the typed error carried between layers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so callers can match with errors.Is(err, &Error{Kind: ...}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the kind from an error chain. Context cancellation maps
// to KindCancelled; anything untyped is KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the detail map from the outermost typed error, or nil.
func DetailsOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
