package runtime

import (
	"errors"
	"fmt"
)

// Error is a submission failure.
//
// Every failed Submit carries exactly one Error. Its Message is the text
// reported to callers in an outcome's "error" field.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SpanType is the submitted span type, when known.
	SpanType string

	// SpanID is the span_id, once one was assigned.
	SpanID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes submission failures.
type ErrorCode string

const (
	// ErrCodeValidation indicates the input was not a valid span.
	// Nothing was executed or written.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeContractNotFound indicates no contract is registered for the
	// span type. Nothing was executed or written.
	ErrCodeContractNotFound ErrorCode = "CONTRACT_NOT_FOUND"

	// ErrCodeExecution indicates the action failed or timed out.
	// The span was not written.
	ErrCodeExecution ErrorCode = "EXECUTION"

	// ErrCodePersistence indicates the action ran but the append failed.
	// The span may or may not be in the log.
	ErrCodePersistence ErrorCode = "PERSISTENCE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsContractNotFound returns true if err is a contract resolution miss.
func IsContractNotFound(err error) bool {
	return hasCode(err, ErrCodeContractNotFound)
}

// IsExecutionError returns true if err is an action failure.
func IsExecutionError(err error) bool {
	return hasCode(err, ErrCodeExecution)
}

// IsPersistenceError returns true if err is a log append failure.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

func hasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newValidationError(spanType string, err error) *Error {
	return &Error{
		Code:     ErrCodeValidation,
		Message:  err.Error(),
		SpanType: spanType,
		Err:      err,
	}
}

func newContractNotFoundError(spanType, spanID string) *Error {
	return &Error{
		Code:     ErrCodeContractNotFound,
		Message:  fmt.Sprintf("No contract found for span type: %s", spanType),
		SpanType: spanType,
		SpanID:   spanID,
	}
}

func newExecutionError(spanType, spanID string, err error) *Error {
	return &Error{
		Code:     ErrCodeExecution,
		Message:  err.Error(),
		SpanType: spanType,
		SpanID:   spanID,
		Err:      err,
	}
}

func newPersistenceError(spanType, spanID string, err error) *Error {
	return &Error{
		Code:     ErrCodePersistence,
		Message:  fmt.Sprintf("Failed to persist span %s: %v", spanID, err),
		SpanType: spanType,
		SpanID:   spanID,
		Err:      err,
	}
}
