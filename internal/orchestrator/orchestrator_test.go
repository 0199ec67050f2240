package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/mocks"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
	"github.com/fyrsmithlabs/agentd/internal/hitl"
	"github.com/fyrsmithlabs/agentd/internal/reasoning"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/workflows"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *mocks.Client, *contextstore.MemoryStore) {
	t.Helper()
	tc := &mocks.Client{}
	store := contextstore.NewMemoryStore(50)
	registry, err := router.NewRegistry(
		router.Persona{ID: "triage", Name: "Triage", Instructions: "Classify."},
		router.Persona{ID: "billing", Name: "Billing", Instructions: "Invoices."},
	)
	require.NoError(t, err)

	o := New(tc, store, registry, Options{
		TaskQueue:       "agentd-conversations",
		MaxCycles:       10,
		TurnTimeout:     time.Minute,
		ApprovalTimeout: time.Hour,
		GatedTools:      []string{"delete_records"},
	}, nil, nil)
	return o, tc, store
}

func mockRun(id string) *mocks.WorkflowRun {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(id)
	run.On("GetRunID").Return("run-1")
	return run
}

func TestStartConversation(t *testing.T) {
	o, tc, _ := testOrchestrator(t)
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, workflows.WorkflowName, mock.Anything).
		Return(mockRun("conversation-c1"), nil)

	h, err := o.StartConversation(context.Background(), StartRequest{
		ConversationID: "c1",
		Security:       contextstore.SecurityContext{Identity: "u1", Tenant: "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "conversation-c1", h.WorkflowID)
	assert.Equal(t, "c1", h.ConversationID)

	// Default persona flows into the workflow input.
	input := tc.Calls[0].Arguments[3].(workflows.ConversationInput)
	assert.Equal(t, "triage", input.Persona)
	assert.False(t, input.Resume)
	assert.Equal(t, []string{"delete_records"}, input.GatedTools)
}

func TestStartConversationWithInitialMessage(t *testing.T) {
	o, tc, _ := testOrchestrator(t)
	tc.On("SignalWithStartWorkflow", mock.Anything, "conversation-c2",
		workflows.SignalMessage, workflows.MessageSignal{Content: "my printer is on fire"},
		mock.Anything, workflows.WorkflowName, mock.Anything).
		Return(mockRun("conversation-c2"), nil)

	h, err := o.StartConversation(context.Background(), StartRequest{
		ConversationID: "c2",
		InitialMessage: "my printer is on fire",
		Security:       contextstore.SecurityContext{Identity: "u1", Tenant: "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "conversation-c2", h.WorkflowID)
	tc.AssertExpectations(t)
}

func TestStartConversationUnknownPersona(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	_, err := o.StartConversation(context.Background(), StartRequest{Persona: "legal"})
	require.ErrorIs(t, err, router.ErrUnknownPersona)
}

func TestSendMessage(t *testing.T) {
	o, tc, _ := testOrchestrator(t)
	tc.On("SignalWorkflow", mock.Anything, "conversation-c1", "", workflows.SignalMessage,
		workflows.MessageSignal{Content: "hello"}).Return(nil)

	require.NoError(t, o.SendMessage(context.Background(), "conversation-c1", "hello"))
	require.Error(t, o.SendMessage(context.Background(), "conversation-c1", ""))
	tc.AssertExpectations(t)
}

func TestGetStatus(t *testing.T) {
	o, tc, _ := testOrchestrator(t)

	val := &mocks.Value{}
	val.On("Get", mock.Anything).Run(func(args mock.Arguments) {
		snap := args.Get(0).(*workflows.StatusSnapshot)
		snap.State = reasoning.StateAwaitingHuman
		snap.ActiveAgent = "triage"
	}).Return(nil)
	tc.On("QueryWorkflow", mock.Anything, "conversation-c1", "", workflows.QueryStatus).
		Return(val, nil)

	snap, err := o.GetStatus(context.Background(), "conversation-c1")
	require.NoError(t, err)
	assert.Equal(t, reasoning.StateAwaitingHuman, snap.State)
	assert.Equal(t, "triage", snap.ActiveAgent)
}

func TestDecideValidatesBeforeSignaling(t *testing.T) {
	o, tc, _ := testOrchestrator(t)
	tc.On("SignalWorkflow", mock.Anything, "conversation-c1", "", workflows.SignalDecision, mock.Anything).
		Return(nil)

	require.NoError(t, o.Decide(context.Background(), "conversation-c1",
		hitl.Decision{Verb: hitl.VerbApprove}))

	// A malformed decision never reaches Temporal.
	err := o.Decide(context.Background(), "conversation-c1", hitl.Decision{Verb: hitl.VerbReject})
	require.Error(t, err)
	tc.AssertNumberOfCalls(t, "SignalWorkflow", 1)
}

func TestForkStartsResumedWorkflow(t *testing.T) {
	o, tc, store := testOrchestrator(t)

	// Seed a source conversation with some history.
	src := contextstore.New("conversation-src", "run-0", "src", "billing",
		contextstore.SecurityContext{Identity: "u1", Tenant: "acme"}, time.Now())
	src.Episodic.Append(contextstore.Turn{Role: contextstore.RoleUser, Content: "original turn", Timestamp: time.Now()})
	require.NoError(t, store.Save(context.Background(), src))

	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, workflows.WorkflowName, mock.Anything).
		Return(mockRun("forked"), nil)

	h, err := o.Fork(context.Background(), "conversation-src")
	require.NoError(t, err)
	assert.NotEmpty(t, h.ConversationID)

	input := tc.Calls[0].Arguments[3].(workflows.ConversationInput)
	assert.True(t, input.Resume)
	assert.Equal(t, "billing", input.Persona)

	// The forked snapshot exists independently with lineage recorded.
	forked, err := store.Load(context.Background(), "conversation-"+h.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "conversation-src", forked.ForkedFrom)
	assert.Equal(t, src.Episodic.RecentTurns, forked.Episodic.RecentTurns)
}

func TestForkUnknownSource(t *testing.T) {
	o, _, _ := testOrchestrator(t)
	_, err := o.Fork(context.Background(), "conversation-missing")
	require.ErrorIs(t, err, contextstore.ErrNotFound)
}

func TestHistoryAndContextAt(t *testing.T) {
	o, _, store := testOrchestrator(t)

	ec := contextstore.New("conversation-h", "run-0", "h", "triage",
		contextstore.SecurityContext{Identity: "u1"}, time.Now())
	require.NoError(t, store.Save(context.Background(), ec))
	ec.Episodic.Append(contextstore.Turn{Role: contextstore.RoleUser, Content: "turn", Timestamp: time.Now()})
	require.NoError(t, store.Save(context.Background(), ec))

	hist, err := o.History(context.Background(), "conversation-h")
	require.NoError(t, err)
	require.Len(t, hist, 2)

	old, err := o.ContextAt(context.Background(), "conversation-h", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, old.Episodic.TotalTurns)
}
