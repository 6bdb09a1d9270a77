// Package errdefs defines the error kinds surfaced by the inference pipeline.
// Callers match them with errors.As.
package errdefs

import (
	"fmt"
)

// PreprocessError reports an image that could not be turned into a model input.
type PreprocessError struct {
	Op  string
	Err error
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("preprocess error in %s: %v", e.Op, e.Err)
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// Preprocess wraps err as a PreprocessError for op.
func Preprocess(op string, err error) error {
	return &PreprocessError{Op: op, Err: err}
}

// PostprocessError reports raw model output that violates the expected layout.
type PostprocessError struct {
	Op  string
	Err error
}

func (e *PostprocessError) Error() string {
	return fmt.Sprintf("postprocess error in %s: %v", e.Op, e.Err)
}

func (e *PostprocessError) Unwrap() error { return e.Err }

// Postprocess wraps err as a PostprocessError for op.
func Postprocess(op string, err error) error {
	return &PostprocessError{Op: op, Err: err}
}

// EngineError reports a failure inside the inference runtime.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Engine wraps err as an EngineError for the named engine.
func Engine(name string, err error) error {
	return &EngineError{Engine: name, Err: err}
}

// InvalidStateError reports an operation attempted in the wrong lifecycle state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: %s", e.Op, e.State)
}

// InvalidState returns an InvalidStateError for op in state.
func InvalidState(op, state string) error {
	return &InvalidStateError{Op: op, State: state}
}
