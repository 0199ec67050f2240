// Package reasoning implements the conversation turn state machine. The
// engine is pure: it mutates the context object and emits typed directives,
// and the workflow executor performs every side effect on its behalf.
package reasoning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/completion"
	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/toolgate"
)

// State is the engine's position in the turn lifecycle.
type State string

const (
	StateReasoning     State = "reasoning"
	StateActingOnTool  State = "acting_on_tool"
	StateObserving     State = "observing"
	StateAwaitingHuman State = "awaiting_human"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// FailureCode names why a turn failed.
type FailureCode string

const (
	FailLoopDetected      FailureCode = "loop_detected"
	FailPolicyViolation   FailureCode = "policy_violation"
	FailProviderExhausted FailureCode = "provider_exhausted"
	FailApprovalTimeout   FailureCode = "approval_timeout"
	FailCancelled         FailureCode = "cancelled"
)

// DirectiveKind tells the executor what the engine needs next.
type DirectiveKind string

const (
	// NeedCompletion asks for one model completion for the active persona.
	NeedCompletion DirectiveKind = "need_completion"

	// NeedTool asks for one gateway invocation.
	NeedTool DirectiveKind = "need_tool"

	// NeedApproval asks the executor to suspend until a human decides.
	NeedApproval DirectiveKind = "need_approval"

	// NeedHandoff asks the executor to route to another persona.
	NeedHandoff DirectiveKind = "need_handoff"

	// Finished ends the turn with FinalText as the assistant reply.
	Finished DirectiveKind = "finished"

	// Failed ends the turn with a failure code.
	Failed DirectiveKind = "failed"
)

// Directive is the engine's typed instruction to the executor.
type Directive struct {
	Kind DirectiveKind

	Tool      string
	CallID    string
	Arguments map[string]any

	HandoffTarget string
	HandoffReason string

	Prompt string

	FinalText string

	Failure       FailureCode
	FailureDetail string
}

// Engine drives one conversation turn. It performs no I/O itself; the
// executor feeds it completions, tool results and human decisions.
type Engine struct {
	state       State
	maxCycles   int
	cycles      int
	lastFailure Directive

	requiresApproval func(tool string) bool
}

// New creates an engine for one turn. requiresApproval reports whether a
// tool is gated behind human approval; nil means nothing is gated.
func New(maxCycles int, requiresApproval func(tool string) bool) *Engine {
	if maxCycles < 1 {
		maxCycles = 1
	}
	if requiresApproval == nil {
		requiresApproval = func(string) bool { return false }
	}
	return &Engine{
		state:            StateReasoning,
		maxCycles:        maxCycles,
		requiresApproval: requiresApproval,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// Cycles returns how many reason-act cycles have run this turn.
func (e *Engine) Cycles() int { return e.cycles }

// Start begins the turn. The user turn must already be appended to the
// episodic layer.
func (e *Engine) Start() Directive {
	return e.needCompletion()
}

// ObserveCompletion consumes one model response and decides the next step.
func (e *Engine) ObserveCompletion(ec *contextstore.EnterpriseContext, resp *completion.Response, callID string, now time.Time) Directive {
	if e.terminal() {
		return e.terminalDirective()
	}

	ec.Operational.LLMCalls++
	ec.Operational.TokensUsed += resp.TokensUsed
	ec.Operational.EstimatedCost += costPerToken * float64(resp.TokensUsed)

	if resp.Handoff != "" {
		return Directive{Kind: NeedHandoff, HandoffTarget: resp.Handoff, HandoffReason: resp.Text}
	}

	if tc := resp.ToolCall; tc != nil {
		e.recordPlannedCall(ec, tc, callID)
		if e.requiresApproval(tc.Name) {
			e.state = StateAwaitingHuman
			ec.Operational.AwaitingHuman = true
			ec.Operational.Pending = &contextstore.PendingDecision{
				Prompt:      approvalPrompt(tc),
				ToolName:    tc.Name,
				Arguments:   tc.Arguments,
				RequestedAt: now.UTC(),
			}
			return Directive{
				Kind:      NeedApproval,
				Tool:      tc.Name,
				CallID:    callID,
				Arguments: tc.Arguments,
				Prompt:    ec.Operational.Pending.Prompt,
			}
		}
		e.state = StateActingOnTool
		return Directive{Kind: NeedTool, Tool: tc.Name, CallID: callID, Arguments: tc.Arguments}
	}

	// Plain text ends the turn.
	ec.Episodic.Append(contextstore.Turn{
		Role:      contextstore.RoleAssistant,
		Content:   resp.Text,
		Timestamp: now.UTC(),
	})
	e.state = StateDone
	return Directive{Kind: Finished, FinalText: resp.Text}
}

// ObserveHandoff consumes the router's verdict on a handoff directive. A
// rejected handoff is fed back to the model as an observation; an accepted
// one simply continues the loop under the new persona. A handoff to the
// already-active persona is a no-op, reported as such rather than as an
// unknown agent.
func (e *Engine) ObserveHandoff(ec *contextstore.EnterpriseContext, switched bool, target string, now time.Time) Directive {
	if e.terminal() {
		return e.terminalDirective()
	}
	if !switched {
		content := fmt.Sprintf("handoff to %q refused: no such agent", target)
		if target == ec.Operational.ActiveAgent {
			content = fmt.Sprintf("handoff to %q skipped: already the active agent", target)
		}
		ec.Episodic.Append(contextstore.Turn{
			Role:      contextstore.RoleSystem,
			Content:   content,
			Timestamp: now.UTC(),
		})
	}
	return e.needCompletion()
}

// ObserveTool consumes one gateway result. Execution and timeout failures
// go back to the model as observations; a policy violation fails the turn.
func (e *Engine) ObserveTool(ec *contextstore.EnterpriseContext, res toolgate.Result, now time.Time) Directive {
	if e.terminal() {
		return e.terminalDirective()
	}
	e.state = StateObserving

	status := "completed"
	if res.Err != nil {
		status = "failed"
	}
	e.settleCall(ec, res.CallID, status)

	if res.Err != nil && res.Err.Code == toolgate.CodePolicyViolation {
		ec.Episodic.Append(contextstore.Turn{
			Role:      contextstore.RoleTool,
			Content:   res.Err.Message,
			Timestamp: now.UTC(),
		})
		return e.fail(FailPolicyViolation, res.Err.Message)
	}

	ec.Episodic.Append(contextstore.Turn{
		Role:      contextstore.RoleTool,
		Content:   observationContent(res),
		Timestamp: now.UTC(),
	})
	return e.needCompletion()
}

// ObserveDecision consumes a resolved human decision. Approve and edit
// resume the gated tool call; reject feeds the reason back to the model.
func (e *Engine) ObserveDecision(ec *contextstore.EnterpriseContext, out hitl.Outcome, callID string, now time.Time) Directive {
	if e.terminal() {
		return e.terminalDirective()
	}
	if out.Proceed {
		e.state = StateActingOnTool
		return Directive{Kind: NeedTool, Tool: out.Tool, CallID: callID, Arguments: out.Arguments}
	}
	e.settleCall(ec, callID, "rejected")
	ec.Episodic.Append(contextstore.Turn{
		Role:      contextstore.RoleSystem,
		Content:   fmt.Sprintf("tool call %s rejected by operator: %s", out.Tool, out.Reason),
		Timestamp: now.UTC(),
	})
	return e.needCompletion()
}

// ProviderExhausted fails the turn after the completion retry budget ran out.
func (e *Engine) ProviderExhausted(detail string) Directive {
	return e.fail(FailProviderExhausted, detail)
}

// ApprovalTimedOut fails the turn after the approval window lapsed.
func (e *Engine) ApprovalTimedOut(ec *contextstore.EnterpriseContext) Directive {
	ec.Operational.Pending = nil
	ec.Operational.AwaitingHuman = false
	return e.fail(FailApprovalTimeout, "no decision arrived within the approval window")
}

// Cancelled fails the turn on external cancellation.
func (e *Engine) Cancelled() Directive {
	return e.fail(FailCancelled, "conversation cancelled")
}

const costPerToken = 0.000002

func (e *Engine) needCompletion() Directive {
	e.cycles++
	if e.cycles > e.maxCycles {
		return e.fail(FailLoopDetected, fmt.Sprintf("exceeded %d reason-act cycles", e.maxCycles))
	}
	e.state = StateReasoning
	return Directive{Kind: NeedCompletion}
}

func (e *Engine) fail(code FailureCode, detail string) Directive {
	e.state = StateFailed
	e.lastFailure = Directive{Kind: Failed, Failure: code, FailureDetail: detail}
	return e.lastFailure
}

func (e *Engine) terminal() bool {
	return e.state == StateDone || e.state == StateFailed
}

func (e *Engine) terminalDirective() Directive {
	if e.state == StateFailed {
		return e.lastFailure
	}
	return Directive{Kind: Finished}
}

func (e *Engine) recordPlannedCall(ec *contextstore.EnterpriseContext, tc *completion.ToolCall, callID string) {
	ec.Operational.Plan = append(ec.Operational.Plan, contextstore.PlanStep{
		Action: tc.Name,
		Status: contextstore.StepInProgress,
	})
	ec.Operational.PlanRevision++
	ec.Operational.ToolCalls = append(ec.Operational.ToolCalls, contextstore.ToolCallRecord{
		ID:     callID,
		Name:   tc.Name,
		Status: "in_progress",
	})
}

func (e *Engine) settleCall(ec *contextstore.EnterpriseContext, callID, status string) {
	for i := range ec.Operational.ToolCalls {
		if ec.Operational.ToolCalls[i].ID == callID {
			ec.Operational.ToolCalls[i].Status = status
			break
		}
	}
	if i := ec.Operational.InProgressStep(); i >= 0 {
		switch status {
		case "completed":
			ec.Operational.Plan[i].Status = contextstore.StepCompleted
		default:
			ec.Operational.Plan[i].Status = contextstore.StepFailed
		}
	}
}

func approvalPrompt(tc *completion.ToolCall) string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil {
		return fmt.Sprintf("Run %s?", tc.Name)
	}
	return fmt.Sprintf("Run %s with arguments %s?", tc.Name, args)
}

func observationContent(res toolgate.Result) string {
	if res.Err != nil {
		return res.Err.Message
	}
	out, err := json.Marshal(res.Output)
	if err != nil {
		return fmt.Sprintf("%v", res.Output)
	}
	return string(out)
}
