package report

import (
	"errors"
	"fmt"
)

// ErrorKind classifies lifecycle failures.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTransition ErrorKind = "invalid_transition"
)

// Error is the typed failure returned by every lifecycle operation.
type Error struct {
	Kind     ErrorKind
	Message  string
	ReportID string
	Field    string
	// Current is the status observed when a transition was refused.
	Current Status
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
)

// Validation builds a validation error for field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

// NotFound builds the error for an unknown report id.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, ReportID: id, Message: fmt.Sprintf("report %s not found", id)}
}

// InvalidTransition builds the error for a transition refused from current.
func InvalidTransition(id string, current Status, t Transition) *Error {
	return &Error{
		Kind:     KindInvalidTransition,
		ReportID: id,
		Current:  current,
		Message:  fmt.Sprintf("cannot %s report %s in status %s", t, id, current),
	}
}

// KindOf returns the kind of a lifecycle error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
