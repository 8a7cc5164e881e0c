package errs

import (
	"errors"
)

// Code is a verification failure code.
type Code string

const (
	// Navigation means the target was unreachable or its landmark never rendered.
	Navigation Code = "navigation"
	// ElementNotFound means a referenced locator never became visible.
	ElementNotFound Code = "element_not_found"
	// AssertionFailed means the element was found but its state did not match.
	AssertionFailed Code = "assertion_failed"
	// InteractionFailed means a click, fill, drag, hover or select could not complete.
	InteractionFailed Code = "interaction_failed"

	InvalidArgument Code = "invalid_argument"
	Unavailable     Code = "unavailable"
	Internal        Code = "internal"
)

// Error is a coded verification error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns the coded message, or the raw error text for uncoded errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ExitCode maps a failure code to a process exit status.
// Zero is reserved for a fully passing run.
func ExitCode(code Code) int {
	switch code {
	case Navigation:
		return 3
	case ElementNotFound:
		return 4
	case AssertionFailed:
		return 5
	case InteractionFailed:
		return 6
	case InvalidArgument:
		return 2
	case Unavailable:
		return 7
	default:
		return 1
	}
}
