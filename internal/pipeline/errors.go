package pipeline

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline failures by whether retrying can help.
type ErrorCode string

const (
	// CodeMalformed marks input that can never be processed. Retrying will not help.
	CodeMalformed ErrorCode = "MALFORMED_RECORD"

	// CodeTransient marks a failure of the log or store. Retrying may help.
	CodeTransient ErrorCode = "TRANSIENT_FAILURE"

	// CodeLogicFault marks an internal invariant violation. Retrying will not help.
	CodeLogicFault ErrorCode = "LOGIC_FAULT"
)

// PipelineError is a categorized pipeline failure.
type PipelineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Stage is the stage that failed ("producer", "transform", "sink").
	Stage string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same input may succeed.
func (e *PipelineError) Retryable() bool {
	return e.Code == CodeTransient
}

// NewMalformedError wraps a decode or validation failure.
func NewMalformedError(stage, message string, err error) *PipelineError {
	return &PipelineError{Code: CodeMalformed, Stage: stage, Message: message, Err: err}
}

// NewTransientError wraps a log or store failure.
func NewTransientError(stage, message string, err error) *PipelineError {
	return &PipelineError{Code: CodeTransient, Stage: stage, Message: message, Err: err}
}

// NewLogicFault wraps an invariant violation.
func NewLogicFault(stage, message string, err error) *PipelineError {
	return &PipelineError{Code: CodeLogicFault, Stage: stage, Message: message, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsTransient returns true if err is a transient pipeline failure.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	return hasCode(err, CodeTransient)
}

// IsLogicFault returns true if err is a logic fault.
func IsLogicFault(err error) bool {
	return hasCode(err, CodeLogicFault)
}

// IsMalformed returns true if err reports a malformed record.
func IsMalformed(err error) bool {
	return hasCode(err, CodeMalformed)
}
