// Package apierr defines the error taxonomy and the response envelope returned
// by every entity operation.
package apierr

import (
	"errors"
	"fmt"
)

// Code is a client-facing result code.
type Code string

const (
	OK             Code = "OK"
	NoSession      Code = "NO_SESSION"
	NoRights       Code = "NO_RIGHTS"
	NoParams       Code = "NO_PARAMS"
	NotFound       Code = "NOT_FOUND"
	InvalidParams  Code = "INVALID_PARAMS"
	DuplicateValue Code = "DUPLICATE_UNIQUE"
	RefNotFound    Code = "REF_NOT_FOUND"
	RefNotUnique   Code = "REF_NOT_UNIQUE"
	HasRef         Code = "HAS_REF"
	Internal       Code = "ERROR"
)

// opaqueMessage is what clients see for unexpected collaborator failures.
const opaqueMessage = "internal error"

// Error is a taxonomy error. Message is safe to show to clients; Err keeps
// the underlying cause for server-side diagnostics.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error returns the message including the wrapped cause.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a taxonomy error with a client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a taxonomy error with a formatted client-safe message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap turns an unexpected collaborator failure into an ERROR whose
// client-facing message is opaque. Taxonomy errors pass through unchanged.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Code: Internal, Message: opaqueMessage, Err: fmt.Errorf("%s: %w", op, err)}
}

// CodeOf maps any error onto the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// ClientMessage returns the message that may be sent to a client.
func ClientMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Code == Internal {
			return opaqueMessage
		}
		if ae.Message != "" {
			return ae.Message
		}
		return string(ae.Code)
	}
	return opaqueMessage
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
