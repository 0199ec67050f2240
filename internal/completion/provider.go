// Package completion defines the consumed LLM completion provider interface
// and the retry policy applied to transient provider failures.
package completion

import (
	"context"
	"fmt"
)

// Message is one prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one completion request.
type Request struct {
	// System is the active persona's instruction block.
	System string `json:"system"`

	// Messages is the conversation window, oldest first.
	Messages []Message `json:"messages"`

	// Tools is the active persona's tool set.
	Tools []ToolSpec `json:"tools,omitempty"`
}

// ToolCall is a model-selected tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is the model's output: final text, a tool call, or a handoff to
// another persona. Exactly one of Text, ToolCall and Handoff is meaningful.
type Response struct {
	Text       string    `json:"text,omitempty"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`
	Handoff    string    `json:"handoff,omitempty"`
	TokensUsed int       `json:"tokens_used"`
}

// ProviderError is a completion failure. Transient errors are retried with
// backoff; permanent ones surface immediately.
type ProviderError struct {
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider: %s", e.Message)
}

// Provider is the consumed completion interface. Any concrete model client
// can sit behind it.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
