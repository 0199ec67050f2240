package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/agentd/internal/completion"
	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/reasoning"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/toolgate"
)

// Conversation is the durable conversation workflow. The registry is static
// wiring shared by every execution, so routing decisions stay deterministic
// across replays.
type Conversation struct {
	Registry *router.Registry
}

type convState struct {
	ec            *contextstore.EnterpriseContext
	state         reasoning.State
	turns         int
	failureCode   string
	failureDetail string
}

// Run executes one conversation: it loops over inbound message signals,
// drives the reasoning engine for each turn, and checkpoints the context
// object before and after every external call. It completes when the
// conversation goes idle, is cancelled, or a turn fails terminally.
func (c *Conversation) Run(ctx workflow.Context, input ConversationInput) (*ConversationResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)

	if input.MaxCycles <= 0 {
		input.MaxCycles = 10
	}
	if input.TurnTimeout <= 0 {
		input.TurnTimeout = 30 * time.Minute
	}
	gated := make(map[string]bool, len(input.GatedTools))
	for _, t := range input.GatedTools {
		gated[t] = true
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var a *Activities
	st := &convState{state: reasoning.StateReasoning}

	err := workflow.SetQueryHandler(ctx, QueryStatus, func() (StatusSnapshot, error) {
		snap := StatusSnapshot{
			State:       st.state,
			FailureCode: st.failureCode,
		}
		if st.ec != nil {
			snap.ActiveAgent = st.ec.Operational.ActiveAgent
			snap.Plan = st.ec.Operational.Plan
			snap.PendingDecision = st.ec.Operational.Pending
			snap.TotalTurns = st.ec.Episodic.TotalTurns
			snap.ContextVersion = st.ec.Version
			snap.Degraded = st.ec.Operational.EnrichmentDegraded
		}
		return snap, nil
	})
	if err != nil {
		return nil, WrapActivityError("register status query", err)
	}

	err = workflow.ExecuteActivity(ctx, a.CreateContextActivity, CreateContextInput{
		WorkflowID:     info.WorkflowExecution.ID,
		RunID:          info.WorkflowExecution.RunID,
		ConversationID: input.ConversationID,
		Persona:        input.Persona,
		Security:       input.Security,
		Resume:         input.Resume,
	}).Get(ctx, &st.ec)
	if err != nil {
		return nil, WrapActivityError("create context", err)
	}

	msgCh := workflow.GetSignalChannel(ctx, SignalMessage)
	decCh := workflow.GetSignalChannel(ctx, SignalDecision)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	for {
		var msg MessageSignal
		received := false
		cancelled := false

		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		idle := workflow.NewTimer(timerCtx, input.TurnTimeout)

		sel := workflow.NewSelector(ctx)
		sel.AddReceive(msgCh, func(ch workflow.ReceiveChannel, _ bool) {
			ch.Receive(ctx, &msg)
			received = true
		})
		sel.AddReceive(cancelCh, func(ch workflow.ReceiveChannel, _ bool) {
			var cs CancelSignal
			ch.Receive(ctx, &cs)
			cancelled = true
		})
		sel.AddFuture(idle, func(workflow.Future) {})
		sel.Select(ctx)
		cancelTimer()

		if cancelled {
			st.state = reasoning.StateFailed
			st.failureCode = string(reasoning.FailCancelled)
			st.failureDetail = "conversation cancelled"
			if ec, cpErr := c.checkpoint(ctx, a, st.ec); cpErr != nil {
				logger.Error("final cancel checkpoint failed", "error", cpErr)
			} else {
				st.ec = ec
			}
			break
		}
		if !received {
			logger.Info("conversation idle, completing",
				"turns", st.turns,
				"idle_timeout", input.TurnTimeout)
			st.state = reasoning.StateDone
			break
		}

		st.turns++
		if err := c.runTurn(ctx, input, a, st, msg, decCh, cancelCh, gated); err != nil {
			return nil, err
		}
		if st.state == reasoning.StateFailed {
			break
		}
	}

	result := &ConversationResult{
		ConversationID: input.ConversationID,
		Turns:          st.turns,
		FinalState:     st.state,
		FailureCode:    st.failureCode,
		FailureDetail:  st.failureDetail,
	}
	if st.ec != nil {
		result.FinalVersion = st.ec.Version
	}
	logger.Info("conversation finished",
		"turns", result.Turns,
		"state", result.FinalState,
		"failure_code", result.FailureCode)
	return result, nil
}

// runTurn drives one reason-act loop for a single user message.
func (c *Conversation) runTurn(
	ctx workflow.Context,
	input ConversationInput,
	a *Activities,
	st *convState,
	msg MessageSignal,
	decCh workflow.ReceiveChannel,
	cancelCh workflow.ReceiveChannel,
	gated map[string]bool,
) error {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	now := workflow.Now(ctx).UTC()

	userTurn := contextstore.Turn{Role: contextstore.RoleUser, Content: msg.Content, Timestamp: now}
	st.ec.Episodic.Append(userTurn)

	var err error
	if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
		return err
	}

	var enriched EnrichOutput
	err = workflow.ExecuteActivity(ctx, a.EnrichMemoryActivity, EnrichInput{
		Context: st.ec,
		Query:   msg.Content,
	}).Get(ctx, &enriched)
	if err != nil {
		return WrapActivityError("enrich memory", err)
	}
	st.ec = enriched.Context
	if enriched.Degraded {
		logger.Warn("memory enrichment degraded", "reason", enriched.Reason)
	}
	if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
		return err
	}

	engine := reasoning.New(input.MaxCycles, func(tool string) bool { return gated[tool] })
	st.state = engine.State()
	d := engine.Start()

	for {
		// A cancel that arrived mid-turn takes effect at the next step.
		var cs CancelSignal
		if cancelCh.ReceiveAsync(&cs) {
			d = engine.Cancelled()
		}

		st.state = engine.State()
		now = workflow.Now(ctx).UTC()

		switch d.Kind {
		case reasoning.NeedCompletion:
			key := fmt.Sprintf("%s:t%d:c%d", info.WorkflowExecution.ID, st.turns, engine.Cycles())
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			var resp *completion.Response
			actErr := workflow.ExecuteActivity(ctx, a.CompleteActivity, CompleteInput{
				Context:        st.ec,
				IdempotencyKey: key,
			}).Get(ctx, &resp)
			if actErr != nil {
				logger.Error("completion provider exhausted", "error", actErr)
				d = engine.ProviderExhausted("completion provider unavailable")
				continue
			}
			callID := fmt.Sprintf("%s-t%d-c%d", info.WorkflowExecution.ID, st.turns, engine.Cycles())
			d = engine.ObserveCompletion(st.ec, resp, callID, now)

		case reasoning.NeedHandoff:
			from := st.ec.Operational.ActiveAgent
			switched, routeErr := c.Registry.Route(st.ec, &router.HandoffDirective{
				Target: d.HandoffTarget,
				Reason: d.HandoffReason,
			}, now)
			if routeErr != nil {
				logger.Warn("handoff refused", "target", d.HandoffTarget, "error", routeErr)
			} else if switched {
				logger.Info("agent handoff", "from", from, "to", d.HandoffTarget)
			}
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			d = engine.ObserveHandoff(st.ec, switched, d.HandoffTarget, now)

		case reasoning.NeedTool:
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			var res toolgate.Result
			actErr := workflow.ExecuteActivity(ctx, a.ExecuteToolActivity, ToolInput{
				Context:   st.ec,
				Tool:      d.Tool,
				CallID:    d.CallID,
				Arguments: d.Arguments,
			}).Get(ctx, &res)
			if actErr != nil {
				return WrapActivityError("execute tool", actErr)
			}
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			d = engine.ObserveTool(st.ec, res, now)

		case reasoning.NeedApproval:
			st.state = reasoning.StateAwaitingHuman
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			d = c.awaitDecision(ctx, input, engine, st, d, decCh, cancelCh)

		case reasoning.Finished:
			st.state = reasoning.StateDone
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			assistantTurn := contextstore.Turn{Role: contextstore.RoleAssistant, Content: d.FinalText, Timestamp: now}
			err = workflow.ExecuteActivity(ctx, a.WriteMemoryActivity, WriteMemoryInput{
				Turns:   []contextstore.Turn{userTurn, assistantTurn},
				Outcome: "completed",
			}).Get(ctx, nil)
			if err != nil {
				logger.Warn("memory write failed", "error", err)
			}
			return nil

		case reasoning.Failed:
			st.state = reasoning.StateFailed
			st.failureCode = string(d.Failure)
			st.failureDetail = d.FailureDetail
			if st.ec, err = c.checkpoint(ctx, a, st.ec); err != nil {
				return err
			}
			err = workflow.ExecuteActivity(ctx, a.WriteMemoryActivity, WriteMemoryInput{
				Turns:   []contextstore.Turn{userTurn},
				Outcome: st.failureCode,
			}).Get(ctx, nil)
			if err != nil {
				logger.Warn("memory write failed", "error", err)
			}
			return nil
		}
	}
}

// awaitDecision suspends until a human decision, a cancel, or the approval
// timeout. A zero timeout waits indefinitely. Malformed decisions are
// rejected and the wait continues.
func (c *Conversation) awaitDecision(
	ctx workflow.Context,
	input ConversationInput,
	engine *reasoning.Engine,
	st *convState,
	d reasoning.Directive,
	decCh workflow.ReceiveChannel,
	cancelCh workflow.ReceiveChannel,
) reasoning.Directive {
	logger := workflow.GetLogger(ctx)

	var timer workflow.Future
	if input.ApprovalTimeout > 0 {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		timer = workflow.NewTimer(timerCtx, input.ApprovalTimeout)
		defer cancelTimer()
	}

	for {
		var ds DecisionSignal
		decided := false
		cancelled := false
		timedOut := false

		sel := workflow.NewSelector(ctx)
		sel.AddReceive(decCh, func(ch workflow.ReceiveChannel, _ bool) {
			ch.Receive(ctx, &ds)
			decided = true
		})
		sel.AddReceive(cancelCh, func(ch workflow.ReceiveChannel, _ bool) {
			var cs CancelSignal
			ch.Receive(ctx, &cs)
			cancelled = true
		})
		if timer != nil {
			sel.AddFuture(timer, func(workflow.Future) { timedOut = true })
		}
		sel.Select(ctx)

		switch {
		case cancelled:
			return engine.Cancelled()
		case timedOut:
			logger.Warn("approval window lapsed", "tool", d.Tool)
			return engine.ApprovalTimedOut(st.ec)
		case decided:
			out, err := hitl.Apply(st.ec, ds.Decision)
			if err != nil {
				logger.Warn("invalid decision ignored", "error", err)
				continue
			}
			return engine.ObserveDecision(st.ec, out, d.CallID, workflow.Now(ctx).UTC())
		}
	}
}

// checkpoint persists the context through the save activity and adopts the
// version-bumped copy.
func (c *Conversation) checkpoint(ctx workflow.Context, a *Activities, ec *contextstore.EnterpriseContext) (*contextstore.EnterpriseContext, error) {
	var out *contextstore.EnterpriseContext
	if err := workflow.ExecuteActivity(ctx, a.SaveContextActivity, ec).Get(ctx, &out); err != nil {
		return nil, WrapActivityError("checkpoint context", err)
	}
	return out, nil
}
