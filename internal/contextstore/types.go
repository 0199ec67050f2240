package contextstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the current serialization schema for EnterpriseContext.
// Snapshots written with a newer schema are rejected on read.
const SchemaVersion = 1

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Turn is one user or assistant message.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityContext carries the already-validated identity for a conversation.
// It is created once at request entry and never mutated or merged from
// untrusted input.
type SecurityContext struct {
	Identity    string    `json:"identity"`
	Tenant      string    `json:"tenant"`
	SessionID   string    `json:"session_id"`
	Roles       []string  `json:"roles"`
	Scopes      []string  `json:"scopes"`
	TokenExpiry time.Time `json:"token_expiry"`
}

// HasRole reports whether the identity carries the given role.
func (s SecurityContext) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasScope reports whether the identity carries the given permission scope.
func (s SecurityContext) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// EpisodicState holds the rolling conversation window and its compacted
// summary. The recent-turn window is bounded; older turns are folded into
// Summary by the enrichment pipeline. Summary only ever grows or is
// re-summarized, never reset.
type EpisodicState struct {
	ConversationID string    `json:"conversation_id"`
	RecentTurns    []Turn    `json:"recent_turns"`
	Summary        string    `json:"summary"`
	TotalTurns     int       `json:"total_turns"`
	LastActivity   time.Time `json:"last_activity"`
}

// Append records a new turn and updates the counters. Only user and
// assistant messages count toward TotalTurns; tool and system observations
// enter the window without inflating it. Window folding is the enrichment
// pipeline's job; Append never drops turns.
func (e *EpisodicState) Append(turn Turn) {
	e.RecentTurns = append(e.RecentTurns, turn)
	if turn.Role == RoleUser || turn.Role == RoleAssistant {
		e.TotalTurns++
	}
	e.LastActivity = turn.Timestamp
}

// Fact is a retrieved long-term knowledge record. Source is the provenance
// pointer back to the origin record in the external knowledge store.
type Fact struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// SemanticKnowledge holds the facts retrieved for the current reasoning step.
// Facts are replaced wholesale on each retrieval, never merged across
// queries, so the layer stays bounded.
type SemanticKnowledge struct {
	Facts         []Fact            `json:"facts"`
	Entities      map[string]string `json:"entities,omitempty"`
	LastQuery     string            `json:"last_query"`
	LastQueriedAt time.Time         `json:"last_queried_at"`
}

// Replace swaps the fact set for a fresh retrieval.
func (s *SemanticKnowledge) Replace(query string, facts []Fact, at time.Time) {
	s.Facts = facts
	s.LastQuery = query
	s.LastQueriedAt = at
}

// StepStatus is the lifecycle of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// PlanStep is one planned action with its reasoning.
type PlanStep struct {
	Action    string     `json:"action"`
	Reasoning string     `json:"reasoning,omitempty"`
	Status    StepStatus `json:"status"`
}

// ToolCallRecord tracks one tool invocation.
type ToolCallRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// PendingDecision is the record exposed to a human operator while the
// workflow is suspended awaiting approval.
type PendingDecision struct {
	Prompt      string         `json:"prompt"`
	ToolName    string         `json:"tool_name,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// OperationalState is the in-flight plan and tool state for a workflow.
type OperationalState struct {
	WorkflowID         string           `json:"workflow_id"`
	RunID              string           `json:"run_id"`
	ActiveAgent        string           `json:"active_agent"`
	Plan               []PlanStep       `json:"plan,omitempty"`
	PlanRevision       int              `json:"plan_revision"`
	ToolCalls          []ToolCallRecord `json:"tool_calls,omitempty"`
	AwaitingHuman      bool             `json:"awaiting_human_input"`
	Pending            *PendingDecision `json:"pending_decision,omitempty"`
	EnrichmentDegraded bool             `json:"enrichment_degraded"`
	LLMCalls           int              `json:"llm_calls"`
	TokensUsed         int              `json:"tokens_used"`
	EstimatedCost      float64          `json:"estimated_cost"`
}

// InProgressStep returns the index of the single in-progress plan step,
// or -1 when no step is running.
func (o *OperationalState) InProgressStep() int {
	for i, step := range o.Plan {
		if step.Status == StepInProgress {
			return i
		}
	}
	return -1
}

// EnterpriseContext is the four-layer context object. It is the unit of
// checkpointing: the whole object is serialized and persisted at every
// suspension point.
type EnterpriseContext struct {
	Schema      int               `json:"schema"`
	WorkflowID  string            `json:"workflow_id"`
	RunID       string            `json:"run_id"`
	ForkedFrom  string            `json:"forked_from,omitempty"`
	Version     int               `json:"version"`
	Security    SecurityContext   `json:"security"`
	Episodic    EpisodicState     `json:"episodic"`
	Semantic    SemanticKnowledge `json:"semantic"`
	Operational OperationalState  `json:"operational"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New creates a fresh EnterpriseContext for a new conversation.
func New(workflowID, runID, conversationID, persona string, sec SecurityContext, now time.Time) *EnterpriseContext {
	return &EnterpriseContext{
		Schema:     SchemaVersion,
		WorkflowID: workflowID,
		RunID:      runID,
		Security:   sec,
		Episodic: EpisodicState{
			ConversationID: conversationID,
			LastActivity:   now,
		},
		Semantic: SemanticKnowledge{},
		Operational: OperationalState{
			WorkflowID:  workflowID,
			RunID:       runID,
			ActiveAgent: persona,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone deep-copies the context through its JSON representation, so no
// slices or maps are shared with the original.
func (c *EnterpriseContext) Clone() *EnterpriseContext {
	data, err := json.Marshal(c)
	if err != nil {
		// All fields are plain data; marshaling cannot fail in practice.
		panic(fmt.Sprintf("contextstore: clone marshal: %v", err))
	}
	var out EnterpriseContext
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("contextstore: clone unmarshal: %v", err))
	}
	return &out
}

// Fork produces an independent copy of the context under new identifiers.
// All four layers are deep-copied; the parent is recorded in ForkedFrom for
// audit only.
func (c *EnterpriseContext) Fork(newWorkflowID, newRunID string, now time.Time) *EnterpriseContext {
	fork := c.Clone()
	fork.WorkflowID = newWorkflowID
	fork.RunID = newRunID
	fork.ForkedFrom = c.WorkflowID
	fork.Version = 0
	fork.Operational.WorkflowID = newWorkflowID
	fork.Operational.RunID = newRunID
	fork.CreatedAt = now
	fork.UpdatedAt = now
	return fork
}

// Marshal serializes the context for persistence.
func (c *EnterpriseContext) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a snapshot, rejecting future schema versions.
func Unmarshal(data []byte) (*EnterpriseContext, error) {
	var c EnterpriseContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if c.Schema > SchemaVersion {
		return nil, fmt.Errorf("%w: snapshot schema %d is newer than supported %d",
			ErrSerialization, c.Schema, SchemaVersion)
	}
	return &c, nil
}
