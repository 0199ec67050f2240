// Package orchestrator is the exposed conversation surface: it starts,
// signals, queries and forks conversation workflows on behalf of callers.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/workflows"
)

// Options configures the orchestrator.
type Options struct {
	TaskQueue       string
	MaxCycles       int
	TurnTimeout     time.Duration
	ApprovalTimeout time.Duration

	// GatedTools lists tool names requiring human approval; passed into
	// every started workflow.
	GatedTools []string
}

// Handle identifies a running conversation.
type Handle struct {
	ConversationID string `json:"conversation_id"`
	WorkflowID     string `json:"workflow_id"`
	RunID          string `json:"run_id"`
}

// StartRequest opens a new conversation.
type StartRequest struct {
	ConversationID string
	Persona        string
	InitialMessage string
	Security       contextstore.SecurityContext
}

// Orchestrator fronts the Temporal client and the context store.
type Orchestrator struct {
	tc       client.Client
	store    contextstore.Store
	registry *router.Registry
	opts     Options
	metrics  *telemetry.Metrics
	logger   *logging.Logger
}

// New creates an orchestrator.
func New(tc client.Client, store contextstore.Store, registry *router.Registry, opts Options, metrics *telemetry.Metrics, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NewNop()
	}
	return &Orchestrator{
		tc:       tc,
		store:    store,
		registry: registry,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// StartConversation starts a workflow for a new conversation and returns its
// handle. The persona defaults to the registry's entry point.
func (o *Orchestrator) StartConversation(ctx context.Context, req StartRequest) (*Handle, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	persona := req.Persona
	if persona == "" {
		persona = o.registry.Default()
	}
	if _, err := o.registry.Get(persona); err != nil {
		return nil, err
	}

	workflowID := "conversation-" + req.ConversationID
	startOpts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: o.opts.TaskQueue,
	}
	in := o.input(req.ConversationID, persona, req.Security, false)

	var run client.WorkflowRun
	var err error
	if req.InitialMessage != "" {
		// Signal-with-start delivers the first message atomically with the
		// workflow start, so it cannot be lost between the two calls.
		run, err = o.tc.SignalWithStartWorkflow(ctx, workflowID,
			workflows.SignalMessage, workflows.MessageSignal{Content: req.InitialMessage},
			startOpts, workflows.WorkflowName, in)
	} else {
		run, err = o.tc.ExecuteWorkflow(ctx, startOpts, workflows.WorkflowName, in)
	}
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}

	o.logger.Info(ctx, "conversation started",
		zap.String("conversation_id", req.ConversationID),
		zap.String("workflow_id", run.GetID()),
		zap.String("persona", persona))
	return &Handle{ConversationID: req.ConversationID, WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// SendMessage delivers a user message to a running conversation.
func (o *Orchestrator) SendMessage(ctx context.Context, workflowID, content string) error {
	if content == "" {
		return fmt.Errorf("message content must not be empty")
	}
	err := o.tc.SignalWorkflow(ctx, workflowID, "", workflows.SignalMessage, workflows.MessageSignal{Content: content})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// GetStatus queries a conversation's current state.
func (o *Orchestrator) GetStatus(ctx context.Context, workflowID string) (*workflows.StatusSnapshot, error) {
	v, err := o.tc.QueryWorkflow(ctx, workflowID, "", workflows.QueryStatus)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	var snap workflows.StatusSnapshot
	if err := v.Get(&snap); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &snap, nil
}

// Decide delivers a human decision for a pending approval. The decision is
// validated here so a malformed one fails fast instead of being dropped by
// the workflow.
func (o *Orchestrator) Decide(ctx context.Context, workflowID string, d hitl.Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	err := o.tc.SignalWorkflow(ctx, workflowID, "", workflows.SignalDecision, workflows.DecisionSignal{Decision: d})
	if err != nil {
		return fmt.Errorf("send decision: %w", err)
	}
	o.metrics.ApprovalDecisions.WithLabelValues(string(d.Verb)).Inc()
	return nil
}

// Cancel aborts a running conversation. The workflow checkpoints its final
// state before completing.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID, reason string) error {
	err := o.tc.SignalWorkflow(ctx, workflowID, "", workflows.SignalCancel, workflows.CancelSignal{Reason: reason})
	if err != nil {
		return fmt.Errorf("cancel conversation: %w", err)
	}
	return nil
}

// Fork copies a conversation's latest context under a new workflow id and
// starts a fresh workflow over the copy. The source conversation is
// untouched.
func (o *Orchestrator) Fork(ctx context.Context, sourceWorkflowID string) (*Handle, error) {
	newConversationID := uuid.NewString()
	newWorkflowID := "conversation-" + newConversationID

	forked, err := o.store.Fork(ctx, sourceWorkflowID, newWorkflowID, "")
	if err != nil {
		return nil, fmt.Errorf("fork context: %w", err)
	}

	run, err := o.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        newWorkflowID,
		TaskQueue: o.opts.TaskQueue,
	}, workflows.WorkflowName, o.input(newConversationID, forked.Operational.ActiveAgent, forked.Security, true))
	if err != nil {
		return nil, fmt.Errorf("start forked conversation: %w", err)
	}
	o.metrics.ContextForks.Inc()

	o.logger.Info(ctx, "conversation forked",
		zap.String("source_workflow_id", sourceWorkflowID),
		zap.String("workflow_id", newWorkflowID))
	return &Handle{ConversationID: newConversationID, WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// History lists the persisted context snapshots for a conversation, newest
// first.
func (o *Orchestrator) History(ctx context.Context, workflowID string) ([]contextstore.SnapshotInfo, error) {
	return o.store.History(ctx, workflowID)
}

// ContextAt returns a conversation's context as of a historical version.
func (o *Orchestrator) ContextAt(ctx context.Context, workflowID string, version int) (*contextstore.EnterpriseContext, error) {
	return o.store.LoadVersion(ctx, workflowID, version)
}

func (o *Orchestrator) input(conversationID, persona string, sec contextstore.SecurityContext, resume bool) workflows.ConversationInput {
	return workflows.ConversationInput{
		ConversationID:  conversationID,
		Persona:         persona,
		Security:        sec,
		Resume:          resume,
		MaxCycles:       o.opts.MaxCycles,
		TurnTimeout:     o.opts.TurnTimeout,
		ApprovalTimeout: o.opts.ApprovalTimeout,
		GatedTools:      o.opts.GatedTools,
	}
}
