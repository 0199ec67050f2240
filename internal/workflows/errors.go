package workflows

import "fmt"

// WorkflowError is a structured failure from a workflow step.
type WorkflowError struct {
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to reach the underlying error.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// WrapActivityError wraps an activity error with operation context.
func WrapActivityError(operation string, err error) error {
	return &WorkflowError{Operation: operation, Err: err}
}
