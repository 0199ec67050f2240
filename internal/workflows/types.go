// Package workflows provides the Temporal workflow and activities that run
// agentd conversations durably.
package workflows

import (
	"time"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/reasoning"
)

// Signal and query names exposed by ConversationWorkflow.
const (
	SignalMessage  = "message"
	SignalDecision = "decision"
	SignalCancel   = "cancel"

	QueryStatus = "status"

	// WorkflowName is the registered name of the conversation workflow.
	WorkflowName = "ConversationWorkflow"
)

// ConversationInput starts one conversation workflow.
type ConversationInput struct {
	ConversationID string
	Persona        string
	Security       contextstore.SecurityContext

	// Resume loads an existing context snapshot for this workflow id
	// instead of creating a fresh one. Fork uses this: the forked
	// snapshot is saved first, then the workflow starts over it.
	Resume bool

	MaxCycles       int
	TurnTimeout     time.Duration
	ApprovalTimeout time.Duration

	// GatedTools lists tool names that suspend for human approval.
	GatedTools []string
}

// MessageSignal is one inbound user message.
type MessageSignal struct {
	Content string
}

// DecisionSignal is one inbound human decision on a pending approval.
type DecisionSignal struct {
	Decision hitl.Decision
}

// CancelSignal aborts the conversation.
type CancelSignal struct {
	Reason string
}

// StatusSnapshot answers the status query.
type StatusSnapshot struct {
	State           reasoning.State               `json:"state"`
	ActiveAgent     string                        `json:"active_agent"`
	Plan            []contextstore.PlanStep       `json:"plan,omitempty"`
	PendingDecision *contextstore.PendingDecision `json:"pending_decision,omitempty"`
	TotalTurns      int                           `json:"total_turns"`
	ContextVersion  int                           `json:"context_version"`
	Degraded        bool                          `json:"enrichment_degraded"`
	FailureCode     string                        `json:"failure_code,omitempty"`
}

// ConversationResult is the workflow's final return value.
type ConversationResult struct {
	ConversationID string
	Turns          int
	FinalState     reasoning.State
	FailureCode    string
	FailureDetail  string
	FinalVersion   int
}
