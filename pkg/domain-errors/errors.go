// Package domainerrors carries the coordinator's error taxonomy. Services return
// *Error values tagged with a Code so callers can branch on the kind of failure
// instead of matching strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeInvalidInput covers empty or malformed input. Never reaches the network.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound means the backend answered but the code or record is unknown.
	CodeNotFound Code = "not_found"
	// CodeExpired means the backend answered but the code is past its expiry.
	CodeExpired Code = "expired"
	// CodePreconditionNotMet is a business-rule gate (wrong lifecycle state).
	CodePreconditionNotMet Code = "precondition_not_met"
	// CodeAlreadyConverted is returned when an enquiry was promoted before.
	CodeAlreadyConverted Code = "already_converted"
	// CodeDocumentsIncomplete blocks enrollment finalization.
	CodeDocumentsIncomplete Code = "documents_incomplete"
	// CodeTransient covers network, timeout and connection failures. Eligible for queuing.
	CodeTransient Code = "transient"
	// CodePermanent covers auth, schema and unexpected-shape failures.
	CodePermanent Code = "permanent"
	// CodeStorageUnavailable means the local durable store could not be written.
	CodeStorageUnavailable Code = "storage_unavailable"
	// CodeInternal is the catch-all.
	CodeInternal Code = "internal"
)

// Error is a tagged domain error.
type Error struct {
	Code    Code
	Message string
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

// New creates a tagged error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code. A nil err yields nil so call sites can wrap blindly.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost tagged error in the chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is errors.Is re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsPrecondition reports whether err is one of the business-rule gates.
func IsPrecondition(err error) bool {
	switch CodeOf(err) {
	case CodePreconditionNotMet, CodeAlreadyConverted, CodeDocumentsIncomplete:
		return err != nil
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt later.
func IsRetryable(err error) bool {
	return HasCode(err, CodeTransient)
}
