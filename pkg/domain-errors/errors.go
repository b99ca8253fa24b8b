// Package domainerrors carries coded errors across layers so callers can
// branch on a stable Code instead of string matching.
//
// Stores return sentinel errors (pkg/platform/sentinel); the isolation core
// and services translate them into coded errors at their boundary.
package domainerrors

import (
	"errors"
)

// Code classifies an error for callers and transport layers.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// CodePoolExhausted means no connection was acquired before the acquire
	// deadline. Retryable by the caller with backoff.
	CodePoolExhausted Code = "pool_exhausted"
	// CodeInvalidTenantContext means the tenant identifier was malformed,
	// unknown, suspended, or conflicted with an enclosing unit of work.
	// Not retryable.
	CodeInvalidTenantContext Code = "invalid_tenant_context"
	// CodeWorkFailed wraps an error returned by business work inside a unit
	// of work. The transaction was rolled back.
	CodeWorkFailed Code = "work_failed"
	// CodeIsolationViolation is raised only by the isolation validator.
	CodeIsolationViolation Code = "isolation_violation_detected"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a coded error around err. errors.Is and errors.As see through
// to err.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when err
// carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the operation as-is.
// Only pool exhaustion qualifies; retry policy itself belongs to callers.
func IsRetryable(err error) bool {
	return HasCode(err, CodePoolExhausted)
}
