package core

import "context"

type contextKey string

const (
	ctxKeyProgress    contextKey = "exec_progress"
	ctxKeySessionID   contextKey = "session_id"
	ctxKeyLookupCache contextKey = "lookup_cache"
)

// ContextWithProgress attaches an execution progress callback.
func ContextWithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, ctxKeyProgress, fn)
}

func progressFromContext(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(ctxKeyProgress).(ProgressFunc); ok {
		return fn
	}
	return nil
}

// ContextWithSessionID tags ctx with the import session it serves.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

// SessionIDFromContext extracts the session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySessionID).(string); ok {
		return v
	}
	return ""
}

// ContextWithLookupCache attaches the employee lookup cache of one session.
// Validation serves repeat lookups from it; execution never does.
func ContextWithLookupCache(ctx context.Context, c *EmployeeCache) context.Context {
	return context.WithValue(ctx, ctxKeyLookupCache, c)
}

func lookupCacheFromContext(ctx context.Context) *EmployeeCache {
	c, _ := ctx.Value(ctxKeyLookupCache).(*EmployeeCache)
	return c
}
