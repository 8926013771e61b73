package core

import "context"

type contextKey string

const (
	ctxKeyRunID contextKey = "run_id"
	ctxKeyFile  contextKey = "file"
)

// ContextWithRunID adds the pipeline run id to context for logging and audit.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// ContextWithFile adds the file being processed to context for logging.
func ContextWithFile(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyFile, name)
}

// RunIDFromContext extracts the run id from context.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// FileFromContext extracts the file name from context.
func FileFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyFile).(string); ok {
		return v
	}
	return ""
}
