package emit

import "context"

// spanInfo is the parent-span context BufferTracer and LogTracer thread
// through ctx, since neither backs onto a third-party context-propagation
// mechanism the way OTelTracer does.
type spanInfo struct {
	traceID string
	spanID  string
	depth   int
	path    []string
}

type spanInfoKey struct{}

func withSpanInfo(ctx context.Context, info spanInfo) context.Context {
	return context.WithValue(ctx, spanInfoKey{}, info)
}

func spanInfoFromContext(ctx context.Context) (spanInfo, bool) {
	info, ok := ctx.Value(spanInfoKey{}).(spanInfo)
	return info, ok
}
