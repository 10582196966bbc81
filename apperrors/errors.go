// Package apperrors provides structured application errors with machine readable codes.
package apperrors

import (
	"errors"
	"fmt"
)

// Error codes use the CATEGORY.SPECIFIC format so a category can be grepped as a whole.
const (
	ErrConfigLoad = "CONFIG.LOAD_FAILED"

	ErrPermissionDenied = "PERMISSION.DENIED"

	ErrScheduleFailed = "TRIGGER.SCHEDULE_FAILED"
	ErrQuotaExceeded  = "TRIGGER.QUOTA_EXCEEDED"

	ErrAlarmInvalid        = "ALARM.INVALID"
	ErrStaleAlarmReference = "ALARM.STALE_REFERENCE"
	ErrRecurrenceInvalid   = "RECURRENCE.INVALID"

	ErrNetworkFailure = "NETWORK.FAILURE"
	ErrNotFound       = "BACKEND.NOT_FOUND"

	ErrSnoozeNotAllowed = "ACK.SNOOZE_NOT_ALLOWED"
	ErrNoOpenInstance   = "ACK.NO_OPEN_INSTANCE"
)

// AppError is a structured application error.
// It supports wrapping through Unwrap, so errors.Is and errors.As see the cause.
type AppError struct {
	// Code is the machine readable CATEGORY.SPECIFIC code.
	Code string `json:"code"`

	// Message is a human readable description.
	Message string `json:"message"`

	// Cause is the wrapped original error. Not serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// NewAppError creates an AppError with the given code, message and cause.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an AppError without a cause and a formatted message.
func Errorf(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code returns a bare sentinel for code, usable as errors.Is target.
func Code(code string) error {
	return &AppError{Code: code}
}

// CodeOf returns the code of the first AppError in the chain, or "" if none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether any AppError in the chain of err carries code.
func Is(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
