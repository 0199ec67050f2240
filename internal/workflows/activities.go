package workflows

import (
	"context"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/agentd/internal/completion"
	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/enrichment"
	"github.com/fyrsmithlabs/agentd/internal/knowledge"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/toolgate"
)

// Activities holds every side-effecting dependency the conversation
// workflow reaches through Temporal.
type Activities struct {
	Store     contextstore.Store
	Knowledge knowledge.Store
	Pipeline  *enrichment.Pipeline
	Provider  completion.Provider
	Gateway   *toolgate.Gateway
	Registry  *router.Registry
	Metrics   *telemetry.Metrics

	// completions dedupes provider calls under at-least-once activity
	// retries: a redelivered call with a known idempotency key returns
	// the recorded response instead of hitting the provider again.
	mu          sync.Mutex
	completions map[string]*completion.Response
}

// CreateContextInput initializes or resumes the conversation context.
type CreateContextInput struct {
	WorkflowID     string
	RunID          string
	ConversationID string
	Persona        string
	Security       contextstore.SecurityContext
	Resume         bool
}

// CreateContextActivity loads the context for a resumed or forked workflow,
// or creates and checkpoints a fresh one.
func (a *Activities) CreateContextActivity(ctx context.Context, in CreateContextInput) (*contextstore.EnterpriseContext, error) {
	if in.Resume {
		ec, err := a.Store.Load(ctx, in.WorkflowID)
		if err != nil {
			return nil, err
		}
		ec.Operational.RunID = in.RunID
		return ec, nil
	}

	persona := in.Persona
	if persona == "" {
		persona = a.Registry.Default()
	}
	ec := contextstore.New(in.WorkflowID, in.RunID, in.ConversationID, persona, in.Security, time.Now())
	if err := a.Store.Save(ctx, ec); err != nil {
		return nil, err
	}
	a.Metrics.ConversationsStarted.Inc()
	return ec, nil
}

// SaveContextActivity folds the episodic window to its bound, checkpoints
// the context and returns it with the new version. Folding here keeps every
// persisted snapshot within the window bound even mid-turn, when the engine
// has appended observations since the last enrichment pass. Redelivered
// saves of the same snapshot are no-ops inside the store, so this activity
// is safe to retry.
func (a *Activities) SaveContextActivity(ctx context.Context, ec *contextstore.EnterpriseContext) (*contextstore.EnterpriseContext, error) {
	a.Pipeline.FoldWindow(&ec.Episodic)
	if err := a.Store.Save(ctx, ec); err != nil {
		a.Metrics.CheckpointSaves.WithLabelValues("error").Inc()
		return nil, err
	}
	a.Metrics.CheckpointSaves.WithLabelValues("ok").Inc()
	return ec, nil
}

// EnrichInput asks for one enrichment pass keyed on the new user message.
type EnrichInput struct {
	Context *contextstore.EnterpriseContext
	Query   string
}

// EnrichOutput carries the enriched context plus the degradation verdict.
type EnrichOutput struct {
	Context  *contextstore.EnterpriseContext
	Degraded bool
	Reason   string
}

// EnrichMemoryActivity folds the episodic window and refreshes the semantic
// layer. Retrieval failure degrades the turn instead of failing it, so this
// activity never returns a retrieval error.
func (a *Activities) EnrichMemoryActivity(ctx context.Context, in EnrichInput) (*EnrichOutput, error) {
	start := time.Now()
	res := a.Pipeline.Enrich(ctx, in.Context, in.Query, time.Now())
	a.Metrics.EnrichmentLatency.Observe(time.Since(start).Seconds())
	if res.Degraded {
		a.Metrics.EnrichmentDegraded.Inc()
	}
	return &EnrichOutput{Context: in.Context, Degraded: res.Degraded, Reason: res.DegradedReason}, nil
}

// CompleteInput asks for one model completion for the active persona.
type CompleteInput struct {
	Context *contextstore.EnterpriseContext

	// IdempotencyKey is derived deterministically inside the workflow, so
	// a retried activity presents the same key.
	IdempotencyKey string
}

// CompleteActivity builds the prompt for the active persona and calls the
// completion provider.
func (a *Activities) CompleteActivity(ctx context.Context, in CompleteInput) (*completion.Response, error) {
	if resp := a.recordedCompletion(in.IdempotencyKey); resp != nil {
		return resp, nil
	}

	persona, err := a.Registry.Get(in.Context.Operational.ActiveAgent)
	if err != nil {
		return nil, err
	}

	req := completion.Request{System: persona.Instructions}
	if s := in.Context.Episodic.Summary; s != "" {
		req.Messages = append(req.Messages, completion.Message{Role: "system", Content: "Earlier conversation summary:\n" + s})
	}
	for _, f := range in.Context.Semantic.Facts {
		req.Messages = append(req.Messages, completion.Message{Role: "system", Content: "Known fact: " + f.Content})
	}
	for _, turn := range in.Context.Episodic.RecentTurns {
		req.Messages = append(req.Messages, completion.Message{Role: string(turn.Role), Content: turn.Content})
	}
	for _, name := range persona.Tools {
		tool, ok := a.Gateway.Tool(name)
		if !ok {
			continue
		}
		req.Tools = append(req.Tools, completion.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}

	resp, err := a.Provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	a.Metrics.LLMCalls.WithLabelValues(persona.ID).Inc()
	if resp.Handoff != "" {
		a.Metrics.Handoffs.WithLabelValues(persona.ID, resp.Handoff).Inc()
	}
	if tc := resp.ToolCall; tc != nil {
		if tool, ok := a.Gateway.Tool(tc.Name); ok && tool.RequiresApproval() {
			a.Metrics.ApprovalsRequested.Inc()
		}
	}
	a.recordCompletion(in.IdempotencyKey, resp)
	return resp, nil
}

// ToolInput asks for one gateway invocation.
type ToolInput struct {
	Context   *contextstore.EnterpriseContext
	Tool      string
	CallID    string
	Arguments map[string]any
}

// ExecuteToolActivity runs one tool call through the gateway. Failures come
// back typed inside the Result, never as an activity error, so the workflow
// can feed them to the reasoning engine.
func (a *Activities) ExecuteToolActivity(ctx context.Context, in ToolInput) (toolgate.Result, error) {
	res := a.Gateway.Invoke(ctx, toolgate.Invocation{
		CallID:    in.CallID,
		Name:      in.Tool,
		Arguments: in.Arguments,
		Security:  in.Context.Security,
	})

	code := "ok"
	if res.Err != nil {
		code = string(res.Err.Code)
	}
	a.Metrics.ToolCalls.WithLabelValues(in.Tool, code).Inc()
	a.Metrics.ToolCallLatency.WithLabelValues(in.Tool).Observe(float64(res.DurationMS) / 1000)
	return res, nil
}

// WriteMemoryInput records finished turns into the knowledge store.
type WriteMemoryInput struct {
	Turns   []contextstore.Turn
	Outcome string
}

// WriteMemoryActivity indexes turns for future retrieval and closes out the
// turn's metrics. Indexing is best-effort: errors are logged via the
// activity logger and swallowed.
func (a *Activities) WriteMemoryActivity(ctx context.Context, in WriteMemoryInput) error {
	logger := activity.GetLogger(ctx)
	for _, turn := range in.Turns {
		if err := a.Knowledge.Write(ctx, turn); err != nil {
			logger.Warn("failed to index turn", "error", err)
		}
	}
	if in.Outcome != "" {
		a.Metrics.TurnsCompleted.WithLabelValues(in.Outcome).Inc()
	}
	return nil
}

// ForkContextInput copies an existing conversation context to a new
// workflow id.
type ForkContextInput struct {
	SourceWorkflowID string
	NewWorkflowID    string
	NewRunID         string
}

// ForkContextActivity snapshots the source context under the new workflow
// id so a forked workflow can resume over it.
func (a *Activities) ForkContextActivity(ctx context.Context, in ForkContextInput) (*contextstore.EnterpriseContext, error) {
	ec, err := a.Store.Fork(ctx, in.SourceWorkflowID, in.NewWorkflowID, in.NewRunID)
	if err != nil {
		return nil, err
	}
	a.Metrics.ContextForks.Inc()
	return ec, nil
}

func (a *Activities) recordedCompletion(key string) *completion.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completions[key]
}

func (a *Activities) recordCompletion(key string, resp *completion.Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completions == nil {
		a.completions = make(map[string]*completion.Response)
	}
	a.completions[key] = resp
}
