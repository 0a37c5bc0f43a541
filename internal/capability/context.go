package capability

import "context"

// #region context

type traceKey struct{}
type pathKey struct{}

// WithTrace installs a trace correlation id. The wrapper calls this before
// invoking a capability so nested wrapped calls inherit the outer trace.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceFromContext returns the installed trace id, or empty.
func TraceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// WithPath installs the realized path so far. A nested wrapped call extends
// it with its own channel id instead of starting a fresh path.
func WithPath(ctx context.Context, pathID string) context.Context {
	return context.WithValue(ctx, pathKey{}, pathID)
}

// PathFromContext returns the installed path id, or empty.
func PathFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	p, _ := ctx.Value(pathKey{}).(string)
	return p
}

// #endregion context
