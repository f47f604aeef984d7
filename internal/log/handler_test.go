package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// TestContextHandler_AddsRunContext tests that context values become attributes.
func TestContextHandler_AddsRunContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, true, FormatText)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithScanPoint(ctx, 17)
	ctx = WithNodeID(ctx, 3)
	logger.InfoContext(ctx, "processed")

	out := buf.String()
	for _, want := range []string{"run_id=run-1", "scan_point=17", "node_id=3", "msg=processed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

// TestContextHandler_WithoutContext tests that plain records are unchanged.
func TestContextHandler_WithoutContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, true, FormatText)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.With("component", "runner").Info("started")

	out := buf.String()
	if strings.Contains(out, "run_id") || strings.Contains(out, "scan_point") {
		t.Errorf("unexpected run context in %q", out)
	}
	if !strings.Contains(out, "component=runner") {
		t.Errorf("expected logger attributes in %q", out)
	}
}

// TestNewLogger_Levels tests verbose and non-verbose levels.
func TestNewLogger_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{name: "verbose logs debug", verbose: true, wantDebug: true},
		{name: "quiet drops debug", verbose: false, wantDebug: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			logger, err := NewLogger(&buf, tt.verbose, FormatText)
			if err != nil {
				t.Fatalf("NewLogger failed: %v", err)
			}
			logger.Debug("debug message")
			logger.Warn("warn message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if !strings.Contains(out, "warn message") {
				t.Errorf("warn message missing in %q", out)
			}
		})
	}
}

// TestNewLogger_JSON tests JSON output.
func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, false, FormatJSON)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.WarnContext(WithScanPoint(context.Background(), 2), "failed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["scan_point"] != float64(2) {
		t.Errorf("expected scan_point 2, got %v", record["scan_point"])
	}
	if record["level"] != slog.LevelWarn.String() {
		t.Errorf("expected WARN level, got %v", record["level"])
	}

	if _, err := NewLogger(&buf, false, Format("xml")); err == nil {
		t.Error("expected error for unknown format")
	}
}

// TestParseFormat tests format parsing.
func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatText},
		{in: "TEXT", want: FormatText},
		{in: " json ", want: FormatJSON},
		{in: "yaml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
