package engine

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrorClass represents the classification of an error for retry and reporting logic.
type ErrorClass string

const (
	// ErrorClassNotFound indicates the resource does not exist.
	// Removal treats this as already satisfied.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTransientLock indicates the resource is temporarily in use.
	// Examples: a file held open by a service, a directory mid-enumeration.
	ErrorClassTransientLock ErrorClass = "transient_lock"

	// ErrorClassPermission indicates the platform denied the operation.
	ErrorClassPermission ErrorClass = "permission"

	// ErrorClassSystem indicates the platform rejected the call for another reason.
	ErrorClassSystem ErrorClass = "system"

	// ErrorClassResidual indicates a resource still present after removal was attempted.
	ErrorClassResidual ErrorClass = "residual"
)

// EngineError represents a classified error with context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Subject is the registry path, file path, service or device the error concerns.
	Subject string `json:"subject,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Subject != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (subject=%s, operation=%s)", msg, e.Subject, e.Operation)
	} else if e.Subject != "" {
		msg = fmt.Sprintf("%s (subject=%s)", msg, e.Subject)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassNotFound, Message: message, Err: err, Code: ErrCodeNotFound}
}

// NewTransientLockError creates a new transient lock error.
func NewTransientLockError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransientLock, Message: message, Err: err, Code: ErrCodeInUse}
}

// NewPermissionError creates a new permission error.
func NewPermissionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermission, Message: message, Err: err, Code: ErrCodePermissionDenied}
}

// NewSystemError creates a new system error.
func NewSystemError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassSystem, Message: message, Err: err, Code: ErrCodeInternal}
}

// NewResidualError creates a new residual error.
func NewResidualError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassResidual, Message: message, Err: err, Code: ErrCodeResidual}
}

// WithSubject adds subject context to an error.
func (e *EngineError) WithSubject(subject string) *EngineError {
	e.Subject = subject
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// Classify returns the class of err. Errors that carry no classification are
// mapped through the io/fs sentinels; anything else is a system error.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorClassNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrorClassPermission
	default:
		return ErrorClassSystem
	}
}

// IsNotFound returns true if the error means the resource is absent.
func IsNotFound(err error) bool {
	return err != nil && Classify(err) == ErrorClassNotFound
}

// IsTransientLock returns true if the error is classified as a transient lock.
func IsTransientLock(err error) bool {
	return err != nil && Classify(err) == ErrorClassTransientLock
}

// IsPermission returns true if the error is classified as a permission failure.
func IsPermission(err error) bool {
	return err != nil && Classify(err) == ErrorClassPermission
}

// Common error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInUse            = "IN_USE"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeResidual         = "RESIDUAL"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeLaunchFailed     = "LAUNCH_FAILED"
	ErrCodeNonZeroExit      = "NON_ZERO_EXIT"
)

// ResultStatus is the uniform outcome of a single removal-related operation.
type ResultStatus string

const (
	// ResultRemoved means the resource was removed or the action succeeded.
	ResultRemoved ResultStatus = "removed"

	// ResultNotFound means the resource was already absent.
	ResultNotFound ResultStatus = "not_found"

	// ResultTransientLock means the resource stayed locked through every attempt.
	ResultTransientLock ResultStatus = "transient_lock"

	// ResultPermissionDenied means the platform refused the operation.
	ResultPermissionDenied ResultStatus = "permission_denied"

	// ResultWarning means the action did not succeed but the failure is benign.
	ResultWarning ResultStatus = "warning"

	// ResultFailed means the action failed for another reason.
	ResultFailed ResultStatus = "failed"

	// ResultSkipped means the action was intentionally not attempted.
	ResultSkipped ResultStatus = "skipped"
)

// IsSuccess reports whether the status counts as a satisfied removal.
func (s ResultStatus) IsSuccess() bool {
	return s == ResultRemoved || s == ResultNotFound || s == ResultSkipped
}

// Result is the outcome of one operation as seen by the orchestrator.
type Result struct {
	Status   ResultStatus
	Attempts int
	Err      error
}

// ResultFromError converts an operation error into a Result.
func ResultFromError(err error, attempts int) Result {
	if err == nil {
		return Result{Status: ResultRemoved, Attempts: attempts}
	}
	var status ResultStatus
	switch Classify(err) {
	case ErrorClassNotFound:
		return Result{Status: ResultNotFound, Attempts: attempts}
	case ErrorClassTransientLock:
		status = ResultTransientLock
	case ErrorClassPermission:
		status = ResultPermissionDenied
	default:
		status = ResultFailed
	}
	return Result{Status: status, Attempts: attempts, Err: err}
}
