package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors by the stage responsibility that
// produced them. The orchestrator catches all four kinds per file; anything
// else escaping a run is treated as fatal.
type ErrorKind string

const (
	// KindLoad marks unreadable or malformed input files.
	KindLoad ErrorKind = "load"
	// KindValidation marks inputs missing the required schema.
	KindValidation ErrorKind = "validation"
	// KindComputation marks aggregation failures such as invalid metric
	// definitions.
	KindComputation ErrorKind = "computation"
	// KindWrite marks output filesystem failures.
	KindWrite ErrorKind = "write"
)

// PipelineError is the error type produced by pipeline stages.
type PipelineError struct {
	Kind    ErrorKind
	File    string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	switch {
	case e.File != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.File, e.Message, e.Cause)
	case e.File != "":
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.File, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewLoadError creates an error for an unreadable or malformed input file.
func NewLoadError(file, message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindLoad, File: file, Message: message, Cause: cause}
}

// NewValidationError creates an error for input missing required schema.
func NewValidationError(file, message string) *PipelineError {
	return &PipelineError{Kind: KindValidation, File: file, Message: message}
}

// NewComputationError creates an error for a failed aggregation.
func NewComputationError(message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindComputation, Message: message, Cause: cause}
}

// NewWriteError creates an error for an output filesystem failure.
func NewWriteError(file, message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindWrite, File: file, Message: message, Cause: cause}
}

// KindOf returns the kind of a pipeline error, or an empty kind when err is
// not a *PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a *PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
