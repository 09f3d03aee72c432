package events

import "context"

type contextKey int

const (
	sessionIDKey contextKey = iota
	stageExecutionIDKey
)

// WithSession returns a context carrying the session id, so events emitted
// downstream are attributed without threading ids through every call.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithStageExecution returns a context carrying the active stage execution
// id. Events emitted while a stage is active carry this id; events emitted
// outside any stage (e.g. runbook fetch) do not.
func WithStageExecution(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, stageExecutionIDKey, executionID)
}

// SessionFromContext extracts the session id, or "".
func SessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// StageExecutionFromContext extracts the active stage execution id, or nil
// when no stage is active.
func StageExecutionFromContext(ctx context.Context) *string {
	if v, ok := ctx.Value(stageExecutionIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}
