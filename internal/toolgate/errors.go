package toolgate

import "fmt"

// ErrorCode classifies tool invocation failures so the reasoning engine can
// decide whether to retry, correct arguments, or surface the failure.
type ErrorCode string

const (
	// CodeValidation indicates the argument payload failed schema checks.
	// The tool was never executed.
	CodeValidation ErrorCode = "validation_error"

	// CodePolicyViolation indicates the caller's roles/scopes do not permit
	// this tool. Not retried.
	CodePolicyViolation ErrorCode = "policy_violation"

	// CodeTimeout indicates the tool exceeded its per-call deadline.
	CodeTimeout ErrorCode = "timeout_error"

	// CodeExecution indicates the tool ran and failed.
	CodeExecution ErrorCode = "execution_error"
)

// ToolError is the typed failure returned by the gateway. Message is always
// safe to feed back to a persona; raw low-level error text never crosses
// this boundary.
type ToolError struct {
	Tool    string    `json:"tool"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Code, e.Message)
}

// Result is the typed outcome of one tool invocation. Every outcome,
// success or failure, comes back through this struct so callers never crash
// on a tool problem.
type Result struct {
	Tool       string     `json:"tool"`
	CallID     string     `json:"call_id"`
	OK         bool       `json:"ok"`
	Output     any        `json:"output,omitempty"`
	Err        *ToolError `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}
