// Package toolgate validates and executes single tool calls, returning every
// outcome as a typed result the reasoning engine can act on.
package toolgate

import "context"

// Tool is one invocable capability exposed to personas.
type Tool interface {
	// Name is the unique tool identifier (snake_case by convention).
	Name() string

	// Description is shown to models when the tool is offered.
	Description() string

	// Parameters is the JSON-Schema-like argument specification.
	Parameters() map[string]any

	// RequiredScope is the permission scope needed to invoke the tool.
	// Empty means any authenticated caller.
	RequiredScope() string

	// RequiresApproval marks tools that need a human decision before they
	// run.
	RequiresApproval() bool

	// Call executes with already-validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// FuncTool adapts a plain Go function into a Tool.
type FuncTool struct {
	name        string
	description string
	parameters  map[string]any
	scope       string
	approval    bool
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFuncTool constructs a FuncTool from an explicit schema and function.
func NewFuncTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FuncTool {
	return &FuncTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFuncToolFromStruct derives the parameter schema from a struct.
func NewFuncToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FuncTool {
	return NewFuncTool(name, description, SchemaFromStruct(structType), fn)
}

// WithScope requires a permission scope for invocation.
func (t *FuncTool) WithScope(scope string) *FuncTool {
	t.scope = scope
	return t
}

// WithApproval marks the tool as requiring a human decision.
func (t *FuncTool) WithApproval() *FuncTool {
	t.approval = true
	return t
}

func (t *FuncTool) Name() string               { return t.name }
func (t *FuncTool) Description() string        { return t.description }
func (t *FuncTool) Parameters() map[string]any { return t.parameters }
func (t *FuncTool) RequiredScope() string      { return t.scope }
func (t *FuncTool) RequiresApproval() bool     { return t.approval }

func (t *FuncTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}
