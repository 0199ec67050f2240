// Package hitl models human-in-the-loop decisions on gated tool calls.
package hitl

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

// Verb is the human's decision on a pending approval.
type Verb string

const (
	VerbApprove Verb = "approve"
	VerbEdit    Verb = "edit"
	VerbReject  Verb = "reject"
)

// ErrNoPendingDecision is returned when a decision arrives but nothing is
// awaiting approval.
var ErrNoPendingDecision = errors.New("no pending decision")

// Decision is a validated human decision. Edit carries replacement arguments
// for the gated tool call; Reject carries the reason fed back to the agent.
type Decision struct {
	Verb      Verb           `json:"verb"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
}

// Validate checks the decision's shape before it is applied.
func (d Decision) Validate() error {
	switch d.Verb {
	case VerbApprove:
		return nil
	case VerbEdit:
		if len(d.Arguments) == 0 {
			return errors.New("edit decision requires replacement arguments")
		}
		return nil
	case VerbReject:
		if d.Reason == "" {
			return errors.New("reject decision requires a reason")
		}
		return nil
	default:
		return fmt.Errorf("unknown decision verb %q", d.Verb)
	}
}

// Outcome is the result of applying a decision to a pending tool call.
type Outcome struct {
	// Proceed is true for approve and edit: the tool call goes ahead with
	// Arguments. False means the call was rejected.
	Proceed   bool
	Tool      string
	Arguments map[string]any
	Reason    string
}

// Apply resolves a pending decision. Approve runs the call as requested,
// edit runs it with the human's arguments, reject cancels it. The pending
// decision on the context is cleared either way.
func Apply(ec *contextstore.EnterpriseContext, d Decision) (Outcome, error) {
	if err := d.Validate(); err != nil {
		return Outcome{}, err
	}
	pending := ec.Operational.Pending
	if pending == nil {
		return Outcome{}, ErrNoPendingDecision
	}

	ec.Operational.Pending = nil
	ec.Operational.AwaitingHuman = false

	switch d.Verb {
	case VerbApprove:
		return Outcome{Proceed: true, Tool: pending.ToolName, Arguments: pending.Arguments}, nil
	case VerbEdit:
		return Outcome{Proceed: true, Tool: pending.ToolName, Arguments: d.Arguments}, nil
	default:
		return Outcome{Proceed: false, Tool: pending.ToolName, Reason: d.Reason}, nil
	}
}
