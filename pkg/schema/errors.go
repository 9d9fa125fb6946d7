package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeAlreadyFulfilled  = "ALREADY_FULFILLED"
	ErrCodeTerminated        = "TERMINATED"
	ErrCodeEngineFault       = "ENGINE_FAULT"
	ErrCodeRunner            = "RUNNER_ERROR"
	ErrCodeInputUnsupported  = "INPUT_UNSUPPORTED"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeSecret            = "SECRET_ERROR"
)

// GflowError is the structured error type for all gflow operations.
type GflowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	NodeName string         `json:"node_name,omitempty"`
	Cause    error          `json:"-"`
}

func (e *GflowError) Error() string {
	if e.NodeName != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GflowError) Unwrap() error {
	return e.Cause
}

// Is matches any *GflowError carrying the same code, so callers can write
// errors.Is(err, schema.NewError(schema.ErrCodeNotFound, "")).
func (e *GflowError) Is(target error) bool {
	t, ok := target.(*GflowError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new GflowError.
func NewError(code, message string) *GflowError {
	return &GflowError{Code: code, Message: message}
}

// NewErrorf creates a new GflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *GflowError {
	return &GflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node name to the error.
func (e *GflowError) WithNode(name string) *GflowError {
	e.NodeName = name
	return e
}

// WithCause attaches an underlying cause.
func (e *GflowError) WithCause(err error) *GflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *GflowError) WithDetails(details map[string]any) *GflowError {
	e.Details = details
	return e
}

// HasCode reports whether err wraps a GflowError with the given code.
func HasCode(err error, code string) bool {
	var ge *GflowError
	return errors.As(err, &ge) && ge.Code == code
}
