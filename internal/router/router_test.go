package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		Persona{ID: "triage", Name: "Triage", Instructions: "Classify the request."},
		Persona{ID: "billing", Name: "Billing", Instructions: "Handle invoices.", Tools: []string{"lookup_invoice"}},
	)
	require.NoError(t, err)
	return r
}

func testContext(t *testing.T, agent string) *contextstore.EnterpriseContext {
	t.Helper()
	ec := contextstore.New("wf-1", "run-1", "conv-1", agent,
		contextstore.SecurityContext{Identity: "u1", Tenant: "acme"},
		time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	ec.Episodic.Append(contextstore.Turn{Role: contextstore.RoleUser, Content: "hello", Timestamp: ec.CreatedAt})
	return ec
}

func TestRouteSwitchesActiveAgent(t *testing.T) {
	r := testRegistry(t)
	ec := testContext(t, "triage")
	before := ec.Clone()

	switched, err := r.Route(ec, &HandoffDirective{Target: "billing", Reason: "invoice question"}, time.Now())
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, "billing", ec.Operational.ActiveAgent)

	// The conversational layers survive the transfer untouched.
	assert.Equal(t, before.Episodic, ec.Episodic)
	assert.Equal(t, before.Semantic, ec.Semantic)
}

func TestRouteUnknownTargetStays(t *testing.T) {
	r := testRegistry(t)
	ec := testContext(t, "triage")

	switched, err := r.Route(ec, &HandoffDirective{Target: "legal"}, time.Now())
	require.ErrorIs(t, err, ErrUnknownPersona)
	assert.False(t, switched)
	assert.Equal(t, "triage", ec.Operational.ActiveAgent)
}

func TestRouteNilDirectiveStays(t *testing.T) {
	r := testRegistry(t)
	ec := testContext(t, "triage")

	switched, err := r.Route(ec, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, "triage", ec.Operational.ActiveAgent)
}

func TestRouteSelfHandoffIsNoop(t *testing.T) {
	r := testRegistry(t)
	ec := testContext(t, "billing")

	switched, err := r.Route(ec, &HandoffDirective{Target: "billing"}, time.Now())
	require.NoError(t, err)
	assert.False(t, switched)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(Persona{ID: "a"}, Persona{ID: "a"})
	require.ErrorIs(t, err, ErrDuplicatePersona)
}

func TestRegistryDefaultAndIDs(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, "triage", r.Default())
	assert.Equal(t, []string{"billing", "triage"}, r.IDs())

	_, err := r.Get("billing")
	require.NoError(t, err)
	_, err = r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownPersona)
}
