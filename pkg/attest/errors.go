package attest

import (
	"errors"
	"fmt"
)

// VerificationKind distinguishes why verification could not run at all.
type VerificationKind string

const (
	// KindIncomplete: the report is not signed or lacks part of the triple.
	KindIncomplete VerificationKind = "incomplete"
	// KindMalformed: key, signature or digest cannot be decoded.
	KindMalformed VerificationKind = "malformed"
)

// VerificationError is returned when inputs cannot be verified. A signature
// that decodes but does not match is not an error; see Result.
type VerificationError struct {
	Kind    VerificationKind
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool {
	var t *VerificationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrIncomplete = &VerificationError{Kind: KindIncomplete}
	ErrMalformed  = &VerificationError{Kind: KindMalformed}
)

func incomplete(msg string) error {
	return &VerificationError{Kind: KindIncomplete, Message: msg}
}

func malformed(msg string, err error) error {
	return &VerificationError{Kind: KindMalformed, Message: msg, Err: err}
}
