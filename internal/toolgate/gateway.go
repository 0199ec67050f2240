package toolgate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

// Invocation is one validated-and-executed tool call request.
type Invocation struct {
	// CallID correlates the request with the persona's tool-call record.
	CallID string

	// Name is the tool to invoke.
	Name string

	// Arguments is the raw argument payload from the persona.
	Arguments map[string]any

	// Security is the caller's validated identity; policy checks run
	// against its roles and scopes.
	Security contextstore.SecurityContext
}

// Gateway validates, authorizes and executes tool calls with a per-call
// timeout. It is safe for concurrent use.
type Gateway struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates a gateway with the given per-call timeout.
func New(timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		timeout: timeout,
		logger:  logger,
		tools:   make(map[string]Tool),
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (g *Gateway) Register(tool Tool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name())
	}
	g.tools[tool.Name()] = tool
	return nil
}

// Tool looks up a registered tool by name.
func (g *Gateway) Tool(name string) (Tool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tool, ok := g.tools[name]
	return tool, ok
}

// ToolNames lists registered tools, sorted.
func (g *Gateway) ToolNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.tools))
	for name := range g.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs one tool call. Validation precedes the policy check, and both
// precede execution; a rejected call has zero side effects. Every outcome is
// returned as a typed Result, never a panic or raw error.
func (g *Gateway) Invoke(ctx context.Context, inv Invocation) Result {
	start := time.Now()
	result := Result{Tool: inv.Name, CallID: inv.CallID}

	fail := func(code ErrorCode, message string) Result {
		result.Err = &ToolError{Tool: inv.Name, Code: code, Message: message}
		result.DurationMS = time.Since(start).Milliseconds()
		g.logger.Warn("tool call rejected",
			zap.String("tool", inv.Name),
			zap.String("call_id", inv.CallID),
			zap.String("code", string(code)),
			zap.String("message", message),
		)
		return result
	}

	tool, ok := g.Tool(inv.Name)
	if !ok {
		return fail(CodeValidation, fmt.Sprintf("unknown tool %q", inv.Name))
	}

	if err := ValidateArguments(inv.Arguments, tool.Parameters()); err != nil {
		return fail(CodeValidation, err.Error())
	}

	if !inv.Security.TokenExpiry.IsZero() && time.Now().After(inv.Security.TokenExpiry) {
		return fail(CodePolicyViolation, "security token has expired")
	}
	if scope := tool.RequiredScope(); scope != "" && !inv.Security.HasScope(scope) {
		return fail(CodePolicyViolation,
			fmt.Sprintf("identity %q lacks scope %q required by tool %q",
				inv.Security.Identity, scope, inv.Name))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	output, err := tool.Call(callCtx, inv.Arguments)
	result.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		result.OK = true
		result.Output = output
		g.logger.Debug("tool call succeeded",
			zap.String("tool", inv.Name),
			zap.String("call_id", inv.CallID),
			zap.Int64("duration_ms", result.DurationMS),
		)
	case errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil:
		result.Err = &ToolError{
			Tool:    inv.Name,
			Code:    CodeTimeout,
			Message: fmt.Sprintf("tool %q timed out after %s", inv.Name, g.timeout),
		}
	default:
		// The raw error is logged, never surfaced to the persona.
		g.logger.Error("tool call failed",
			zap.String("tool", inv.Name),
			zap.String("call_id", inv.CallID),
			zap.Error(err),
		)
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			result.Err = toolErr
		} else {
			result.Err = &ToolError{
				Tool:    inv.Name,
				Code:    CodeExecution,
				Message: fmt.Sprintf("tool %q failed during execution", inv.Name),
			}
		}
	}
	return result
}
