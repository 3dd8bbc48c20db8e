package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a conversation ID cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrorCode identifies a class of engine failure. Codes are errors themselves so
// callers can match them with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string { return string(c) }

// Pipeline configuration errors, raised while compiling the step order.
const (
	CodeInvalidStep            ErrorCode = "INVALID_STEP"
	CodeDuplicateStep          ErrorCode = "DUPLICATE_STEP"
	CodeMissingBootstrapStep   ErrorCode = "MISSING_BOOTSTRAP_STEP"
	CodeDuplicateBootstrapStep ErrorCode = "DUPLICATE_BOOTSTRAP_STEP"
	CodeMissingTerminalStep    ErrorCode = "MISSING_TERMINAL_STEP"
	CodeDuplicateTerminalStep  ErrorCode = "DUPLICATE_TERMINAL_STEP"
	CodeUnknownStepReference   ErrorCode = "UNKNOWN_STEP_REFERENCE"
	CodePipelineCycle          ErrorCode = "PIPELINE_CYCLE"
)

// Runtime errors raised by steps and rule actions.
const (
	CodeInvalidRule  ErrorCode = "INVALID_RULE"
	CodeUnknownTask  ErrorCode = "UNKNOWN_TASK"
	CodeTaskFailed   ErrorCode = "TASK_FAILED"
	CodeStepPanicked ErrorCode = "STEP_PANICKED"
)

// EngineError is a known engine failure with a stable code and optional
// structured metadata, which is copied into STEP_ERROR audit payloads.
type EngineError struct {
	Code    ErrorCode
	Message string
	Meta    map[string]any
}

// NewEngineError builds an EngineError. meta may be nil.
func NewEngineError(code ErrorCode, message string, meta map[string]any) *EngineError {
	return &EngineError{Code: code, Message: message, Meta: meta}
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the code so errors.Is(err, CodePipelineCycle) works.
func (e *EngineError) Unwrap() error { return e.Code }
