package chat

import (
	"context"
	"errors"
	"fmt"
)

// GenericFailureMessage is the only failure text returned to callers
const GenericFailureMessage = "Something went wrong."

// ErrValidation is matched by every request validation failure
var ErrValidation = errors.New("validation failed")

// ValidationError reports a rejected request field
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a failed pipeline run
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
)

// Error is returned by Process when a request ends in FAILURE
type Error struct {
	Kind  ErrorKind
	Stage ChatState
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat pipeline failed at %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns the validation error behind e, if any
func (e *Error) Validation() (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(e.Err, &ve)
	return ve, ok
}

func classify(stage ChatState, err error) *Error {
	kind := KindInternal
	switch {
	case errors.Is(err, ErrValidation):
		kind = KindValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindCanceled
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}
