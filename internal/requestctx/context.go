package requestctx

import (
	"context"
)

type contextKey string

// Key is the typed context key used for storing the invocation Context.
var Key contextKey = "cerebro/requestctx"

// Context captures per-invocation metadata used for log correlation. It
// never holds the caller credential or request payload.
type Context struct {
	RequestID string
	SourceIP  string
	Path      string
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok && rc != nil {
		return rc.RequestID
	}
	return ""
}
