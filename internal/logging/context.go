package logging

import (
	"context"

	"go.uber.org/zap"
)

type workflowCtxKey struct{}
type conversationCtxKey struct{}
type tenantCtxKey struct{}

// WithWorkflowID attaches a workflow id to the context for log correlation.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowCtxKey{}, id)
}

// WithConversationID attaches a conversation id to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationCtxKey{}, id)
}

// WithTenant attaches a tenant id to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

// ContextFields extracts correlation fields from the context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id, ok := ctx.Value(workflowCtxKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("workflow.id", id))
	}
	if id, ok := ctx.Value(conversationCtxKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("conversation.id", id))
	}
	if tenant, ok := ctx.Value(tenantCtxKey{}).(string); ok && tenant != "" {
		fields = append(fields, zap.String("tenant", tenant))
	}
	return fields
}
