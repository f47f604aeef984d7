package log

import "context"

type ctxKey int

const (
	runIDKey ctxKey = iota
	scanPointKey
	nodeIDKey
)

// WithRunID returns a context carrying the id of the run in progress.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithScanPoint returns a context carrying the scan point being processed.
func WithScanPoint(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, scanPointKey, index)
}

// WithNodeID returns a context carrying the tree node being executed.
func WithNodeID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// RunID returns the run id stored in ctx.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	return v, ok
}

// ScanPoint returns the scan point stored in ctx.
func ScanPoint(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(scanPointKey).(int)
	return v, ok
}

// NodeID returns the node id stored in ctx.
func NodeID(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(nodeIDKey).(int)
	return v, ok
}
