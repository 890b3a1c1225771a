package statemachine

import (
	"errors"
	"fmt"
)

// Sentinel errors for state machine operations.
var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrTransitionConflict   = errors.New("transition already registered")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrHandler              = errors.New("transition handler failed")
	ErrTableSealed          = errors.New("transition table is sealed")
)

// Code classifies a state machine error
type Code string

const (
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeTransitionConflict   Code = "TRANSITION_CONFLICT"
	CodeTransitionNotAllowed Code = "TRANSITION_NOT_ALLOWED"
	CodeHandlerError         Code = "HANDLER_ERROR"
	CodeTableSealed          Code = "TABLE_SEALED"
)

var codeSentinels = map[Code]error{
	CodeInvalidTransition:    ErrInvalidTransition,
	CodeTransitionConflict:   ErrTransitionConflict,
	CodeTransitionNotAllowed: ErrTransitionNotAllowed,
	CodeHandlerError:         ErrHandler,
	CodeTableSealed:          ErrTableSealed,
}

// Error describes a failed registration or trigger.
// errors.Is matches both the sentinel for Code and the wrapped cause.
type Error struct {
	Code  Code
	From  string
	Event string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: state=%q event=%q", codeSentinels[e.Code], e.From, e.Event)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{codeSentinels[e.Code]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether repeating the trigger could succeed.
// Every code is a programming or handler error, so none are.
func (e *Error) Retryable() bool {
	return false
}

func newError(code Code, from, event string, err error) *Error {
	return &Error{Code: code, From: from, Event: event, Err: err}
}
