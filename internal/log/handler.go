package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ContextHandler wraps an slog.Handler and appends the run context found on
// the record's context.Context.
//
// Design decision: We use a handler wrapper rather than passing the run id
// to every logger call because:
//  1. It integrates seamlessly with standard slog APIs
//  2. Workers only need to derive a context, not a new logger
type ContextHandler struct {
	// handler is the underlying slog handler that receives the records.
	handler slog.Handler
}

// NewContextHandler creates a new ContextHandler wrapping the given handler.
// If handler is nil, the returned ContextHandler will use
// slog.Default().Handler().
func NewContextHandler(handler slog.Handler) *ContextHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &ContextHandler{handler: handler}
}

// Enabled reports whether the handler handles records at the given level.
// It delegates to the underlying handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds the run context attributes and passes the record on.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r = r.Clone()
		if id, ok := RunID(ctx); ok {
			r.AddAttrs(slog.String("run_id", id))
		}
		if p, ok := ScanPoint(ctx); ok {
			r.AddAttrs(slog.Int("scan_point", p))
		}
		if n, ok := NodeID(ctx); ok {
			r.AddAttrs(slog.Int("node_id", n))
		}
	}
	return h.handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes added.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{handler: h.handler.WithGroup(name)}
}

// Format selects the log output encoding.
type Format string

const (
	// FormatText writes logfmt-style text records.
	FormatText Format = "text"
	// FormatJSON writes one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat converts a configuration value into a Format.
// The empty string selects FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// NewLogger creates a new slog.Logger writing to w.
//
// Parameters:
//   - w: The io.Writer to write log output to (typically os.Stderr)
//   - verbose: If true, sets log level to Debug; otherwise Warn
//   - format: FormatText or FormatJSON
func NewLogger(w io.Writer, verbose bool, format Format) (*slog.Logger, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch format {
	case FormatText, "":
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(NewContextHandler(handler)), nil
}
