package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store lookups that match no entity.
var ErrNotFound = errors.New("not found")

// ErrNoLocation is returned by geocoders when an address resolves to nothing.
var ErrNoLocation = errors.New("no location found")

// FailureClass decides what the worker does with a failed stage.
type FailureClass int

// Failure classes, from "requeue with backoff" to "give up on this branch".
const (
	// ClassTransient marks network and filesystem failures that a retry on
	// another attempt can plausibly fix.
	ClassTransient FailureClass = iota
	// ClassTerminal marks failures that retrying cannot change, such as a
	// conversion tool rejecting its input.
	ClassTerminal
)

// StageError wraps a stage failure with its retry classification and, for
// tool failures, the tool's stderr output.
type StageError struct {
	Stage  Stage
	Class  FailureClass
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure of the given stage.
func Transient(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Class: ClassTransient, Err: err}
}

// Terminal wraps err as a non-retryable failure of the given stage.
func Terminal(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Class: ClassTerminal, Err: err}
}

// ToolFailure wraps a nonzero exit status from a conversion tool, keeping the
// tool's stderr for the log. Tool failures are terminal: the same input and
// the same tool will fail the same way again.
func ToolFailure(stage Stage, err error, stderr []byte) *StageError {
	return &StageError{Stage: stage, Class: ClassTerminal, Err: err, Stderr: string(stderr)}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class == ClassTransient
	}
	return false
}
