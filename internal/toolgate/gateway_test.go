package toolgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

func analystSecurity() contextstore.SecurityContext {
	return contextstore.SecurityContext{
		Identity: "alice",
		Roles:    []string{"Analyst"},
		Scopes:   []string{"records:read"},
	}
}

func queryDatabaseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
		},
		"required": []string{"query"},
	}
}

func TestInvokeSuccess(t *testing.T) {
	gateway := New(time.Second, nil)
	executed := false
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "Run a read-only query", queryDatabaseSchema(),
		func(_ context.Context, args map[string]any) (any, error) {
			executed = true
			return map[string]any{"rows": 3, "query": args["query"]}, nil
		},
	).WithScope("records:read")))

	result := gateway.Invoke(context.Background(), Invocation{
		CallID:    "call-1",
		Name:      "query_database",
		Arguments: map[string]any{"query": "select 1", "limit": 10},
		Security:  analystSecurity(),
	})

	assert.True(t, result.OK)
	assert.True(t, executed)
	assert.Nil(t, result.Err)
	assert.Equal(t, "call-1", result.CallID)
}

func TestInvokeValidationPrecedesExecution(t *testing.T) {
	gateway := New(time.Second, nil)
	executed := false
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "Run a read-only query", queryDatabaseSchema(),
		func(context.Context, map[string]any) (any, error) {
			executed = true
			return nil, nil
		},
	)))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{"limit": 10}},
		{"wrong type", map[string]any{"query": 42}},
		{"below minimum", map[string]any{"query": "q", "limit": 0}},
		{"above maximum", map[string]any{"query": "q", "limit": 500}},
		{"unknown field", map[string]any{"query": "q", "verbose": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := gateway.Invoke(context.Background(), Invocation{
				Name: "query_database", Arguments: tt.args, Security: analystSecurity(),
			})
			assert.False(t, result.OK)
			require.NotNil(t, result.Err)
			assert.Equal(t, CodeValidation, result.Err.Code)
			// Zero side effects on rejection.
			assert.False(t, executed)
		})
	}
}

func TestInvokePolicyViolation(t *testing.T) {
	gateway := New(time.Second, nil)
	executed := false
	require.NoError(t, gateway.Register(NewFuncTool(
		"delete_record", "Delete a record",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
			"required":   []string{"id"},
		},
		func(context.Context, map[string]any) (any, error) {
			executed = true
			return nil, nil
		},
	).WithScope("records:delete")))

	viewer := contextstore.SecurityContext{
		Identity: "bob",
		Roles:    []string{"Viewer"},
		Scopes:   []string{"records:read"},
	}

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "delete_record", Arguments: map[string]any{"id": "r-1"}, Security: viewer,
	})

	assert.False(t, result.OK)
	require.NotNil(t, result.Err)
	assert.Equal(t, CodePolicyViolation, result.Err.Code)
	assert.False(t, executed)
}

func TestInvokeExpiredToken(t *testing.T) {
	gateway := New(time.Second, nil)
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "q", queryDatabaseSchema(),
		func(context.Context, map[string]any) (any, error) { return nil, nil },
	)))

	sec := analystSecurity()
	sec.TokenExpiry = time.Now().Add(-time.Minute)

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "query_database", Arguments: map[string]any{"query": "q"}, Security: sec,
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, CodePolicyViolation, result.Err.Code)
	assert.Contains(t, result.Err.Message, "expired")
}

func TestInvokeTimeout(t *testing.T) {
	gateway := New(30*time.Millisecond, nil)
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "q", queryDatabaseSchema(),
		func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)))

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "query_database", Arguments: map[string]any{"query": "slow"}, Security: analystSecurity(),
	})

	assert.False(t, result.OK)
	require.NotNil(t, result.Err)
	assert.Equal(t, CodeTimeout, result.Err.Code)
}

func TestInvokeExecutionErrorSanitized(t *testing.T) {
	gateway := New(time.Second, nil)
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "q", queryDatabaseSchema(),
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("pq: connection reset by 192.168.1.44 in pool goroutine 81723")
		},
	)))

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "query_database", Arguments: map[string]any{"query": "q"}, Security: analystSecurity(),
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, CodeExecution, result.Err.Code)
	assert.NotContains(t, result.Err.Message, "192.168.1.44")
	assert.NotContains(t, result.Err.Message, "goroutine")
}

func TestInvokeToolErrorPassedThrough(t *testing.T) {
	gateway := New(time.Second, nil)
	require.NoError(t, gateway.Register(NewFuncTool(
		"query_database", "q", queryDatabaseSchema(),
		func(context.Context, map[string]any) (any, error) {
			return nil, &ToolError{Tool: "query_database", Code: CodeExecution, Message: "table not found"}
		},
	)))

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "query_database", Arguments: map[string]any{"query": "q"}, Security: analystSecurity(),
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, "table not found", result.Err.Message)
}

func TestInvokeUnknownTool(t *testing.T) {
	gateway := New(time.Second, nil)

	result := gateway.Invoke(context.Background(), Invocation{
		Name: "no_such_tool", Security: analystSecurity(),
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, CodeValidation, result.Err.Code)
}

func TestRegisterDuplicate(t *testing.T) {
	gateway := New(time.Second, nil)
	tool := NewFuncTool("t", "d", map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (any, error) { return nil, nil })

	require.NoError(t, gateway.Register(tool))
	assert.Error(t, gateway.Register(tool))
	assert.Equal(t, []string{"t"}, gateway.ToolNames())
}

func TestSchemaFromStruct(t *testing.T) {
	type TransferArgs struct {
		Amount  float64 `json:"amount" description:"Amount to transfer"`
		To      string  `json:"to"`
		Comment string  `json:"comment,omitempty"`
	}

	schema := SchemaFromStruct(TransferArgs{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "amount")
	assert.Contains(t, props, "to")
	assert.Contains(t, props, "comment")

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"amount", "to"}, required)

	// Derived schema round-trips through validation.
	assert.NoError(t, ValidateArguments(map[string]any{"amount": 4000.0, "to": "acct-9"}, schema))
	assert.Error(t, ValidateArguments(map[string]any{"to": "acct-9"}, schema))
}
