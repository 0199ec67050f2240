package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := New("info", "json")
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("shouting", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithWorkflowID(ctx, "wf-1")
	ctx = WithConversationID(ctx, "conv-1")
	ctx = WithTenant(ctx, "acme")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 3)
}

func TestContextFieldsIgnoresEmpty(t *testing.T) {
	ctx := WithWorkflowID(context.Background(), "")
	assert.Empty(t, ContextFields(ctx))
}
