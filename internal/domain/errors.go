package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable error taxonomy surfaced to callers.
type ErrorCode string

// ErrorCode values.
const (
	CodeNoRoute          ErrorCode = "no-route"
	CodeUpstreamError    ErrorCode = "upstream-error"
	CodeTimeout          ErrorCode = "timeout"
	CodeBuildFailed      ErrorCode = "build-failed"
	CodeSimulationFailed ErrorCode = "simulation-failed"
	CodeSendFailed       ErrorCode = "send-failed"
	CodeBadRequest       ErrorCode = "bad-request"
)

// Retryable reports whether callers should offer a retry for this code.
// Deterministic failures want corrective action instead.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeUpstreamError, CodeTimeout, CodeSendFailed:
		return true
	}
	return false
}

// Error is a taxonomy-coded error with a human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a coded error wrapping cause (cause may be nil).
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Errorf builds a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, defaulting to upstream-error
// for unclassified failures.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUpstreamError
}
