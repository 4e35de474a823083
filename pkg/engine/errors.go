package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: a health endpoint not answering yet, a flaky probe.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: unknown task name, dependency cycle, failed action body.
	ErrorClassPermanent ErrorClass = "permanent"
)

// OrchestrationError is a classified error carrying the task or service
// node it relates to, an error code from the failure taxonomy, and an
// optional remediation hint shown verbatim to the user.
type OrchestrationError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the failure class from the taxonomy below.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Task is the task or service node name that caused the error.
	Task string `json:"task,omitempty"`

	// Remedy is an explicit remediation instruction, printed verbatim
	// when present (guard failures always carry one).
	Remedy string `json:"remedy,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("[%s] %s (task=%s)%s", e.Class, e.Message, e.Task, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

func (e *OrchestrationError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two orchestration errors
// match when class and code agree.
func (e *OrchestrationError) Is(target error) bool {
	t, ok := target.(*OrchestrationError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *OrchestrationError {
	return &OrchestrationError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *OrchestrationError {
	return &OrchestrationError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code to an error.
func (e *OrchestrationError) WithCode(code string) *OrchestrationError {
	e.Code = code
	return e
}

// WithTask adds task context to an error.
func (e *OrchestrationError) WithTask(name string) *OrchestrationError {
	e.Task = name
	return e
}

// WithRemedy attaches a remediation instruction.
func (e *OrchestrationError) WithRemedy(remedy string) *OrchestrationError {
	e.Remedy = remedy
	return e
}

// Failure taxonomy. Each code maps to a distinct process exit status so
// callers can tell failure classes apart without parsing messages.
const (
	ErrCodeUnknownTask    = "UNKNOWN_TASK"
	ErrCodeCycle          = "CYCLE_DETECTED"
	ErrCodeGuard          = "GUARD_UNSATISFIED"
	ErrCodeActionFailed   = "ACTION_FAILED"
	ErrCodeProbe          = "PROBE_ERROR"
	ErrCodeStartupTimeout = "SERVICE_STARTUP_TIMEOUT"
	ErrCodeAuthFailed     = "INTERACTIVE_AUTH_FAILED"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Process exit statuses per failure class.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitCycle          = 3
	ExitGuard          = 4
	ExitActionFailed   = 5
	ExitStartupTimeout = 6
	ExitAuthFailed     = 7
)

// ExitCode maps an error to the process exit status for its failure
// class. Unknown task names are usage errors, not silent no-ops.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var oe *OrchestrationError
	if !errors.As(err, &oe) {
		return ExitFailure
	}
	switch oe.Code {
	case ErrCodeUnknownTask, ErrCodeValidation:
		return ExitUsage
	case ErrCodeCycle:
		return ExitCycle
	case ErrCodeGuard:
		return ExitGuard
	case ErrCodeActionFailed:
		return ExitActionFailed
	case ErrCodeStartupTimeout:
		return ExitStartupTimeout
	case ErrCodeAuthFailed:
		return ExitAuthFailed
	default:
		return ExitFailure
	}
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsCode returns true if the error carries the given taxonomy code.
func IsCode(err error, code string) bool {
	var e *OrchestrationError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
