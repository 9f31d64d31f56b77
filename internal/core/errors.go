package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced to the user.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFetch      Kind = "fetch"
	KindWrite      Kind = "write"
	KindNotFound   Kind = "not_found"
	KindAuth       Kind = "auth"
)

// Kind sentinels, usable with errors.Is against any *Error.
var (
	ErrValidation = &Error{Kind: KindValidation, Message: "validation error"}
	ErrFetch      = &Error{Kind: KindFetch, Message: "fetch error"}
	ErrWrite      = &Error{Kind: KindWrite, Message: "write error"}
	ErrNotFound   = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAuth       = &Error{Kind: KindAuth, Message: "not authorized"}
)

// Error is the uniform failure shape handed to the presentation layer: a
// human readable message plus the original cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Status is the HTTP status when the failure came from a response.
	Status int
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so callers can test
// errors.Is(err, core.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Invalid wraps a field-level rule violation into a ValidationError.
func Invalid(err error) error {
	return &Error{Kind: KindValidation, Message: err.Error(), Cause: err}
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns the text shown inline for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
