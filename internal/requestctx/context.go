// Package requestctx carries request-scoped identity (the acting user and the
// workflow being driven) from the HTTP layer down to tool handlers.
package requestctx

import "context"

type contextKey int

const (
	userIDKey contextKey = iota
	workflowKey
	clientKey
)

// WithUserID stores the acting user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the acting user id, or "" if not set.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithWorkflow stores the workflow key (e.g. "workout") in ctx.
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	return context.WithValue(ctx, workflowKey, workflow)
}

// Workflow returns the workflow key, or "" if not set.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// WithClient stores the authenticated API client label in ctx.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// Client returns the API client label, or "" if not set.
func Client(ctx context.Context) string {
	v, _ := ctx.Value(clientKey).(string)
	return v
}
