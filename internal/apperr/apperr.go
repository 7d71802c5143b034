// Package apperr defines the error taxonomy shared by every component.
// Handlers map these onto HTTP status codes; components never touch HTTP.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("conflict")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrDispatchFailed   = errors.New("dispatch failed")
)

// Error carries a taxonomy kind plus a human-readable message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Decryption(format string, args ...interface{}) error {
	return &Error{Kind: ErrDecryptionFailed, Message: fmt.Sprintf(format, args...)}
}

func Dispatch(format string, args ...interface{}) error {
	return &Error{Kind: ErrDispatchFailed, Message: fmt.Sprintf(format, args...)}
}

// Code returns the stable wire code for an error, or "internal" for anything
// outside the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	default:
		return "internal"
	}
}
