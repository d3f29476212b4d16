package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without parsing messages
type Kind string

const (
	KindConfigMissing    Kind = "config_missing"
	KindNetwork          Kind = "network"
	KindProviderRejected Kind = "provider_rejected"
	KindParse            Kind = "parse_failure"
	KindFileInvalid      Kind = "file_invalid"
	KindPersistence      Kind = "persistence_failure"
	KindNotFound         Kind = "not_found"
	KindUnknown          Kind = "unknown"
)

// Error is the structured error returned across package boundaries
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the human readable message, including the wrapped cause
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a lower-level cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindUnknown
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
