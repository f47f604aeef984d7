package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/reductree/internal/stage"
)

// SimpleWriter outputs human-readable text reports.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections without entries are shown.
	showEmpty bool

	// verbose enables additional detail in the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteRun outputs the run summary in human-readable format.
func (w *SimpleWriter) WriteRun(report *RunReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, "RUN REPORT")

	fmt.Fprintf(&sb, "Run:          %s\n", report.RunID)
	if report.TreeFile != "" {
		fmt.Fprintf(&sb, "Tree:         %s\n", report.TreeFile)
	}
	if w.verbose && report.TreeDigest != "" {
		fmt.Fprintf(&sb, "Digest:       %s\n", report.TreeDigest)
	}
	fmt.Fprintf(&sb, "Started:      %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if elapsed := report.Elapsed(); elapsed > 0 {
		fmt.Fprintf(&sb, "Elapsed:      %s\n", elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(&sb, "Status:       %s\n", statusText(report))
	sb.WriteString("\n")

	w.writeSection(&sb, "SCAN POINTS")
	fmt.Fprintf(&sb, "  TOTAL:      %d\n", report.Total)
	fmt.Fprintf(&sb, "  SUCCEEDED:  %d\n", report.Succeeded)
	fmt.Fprintf(&sb, "  FAILED:     %d\n", report.Failed)
	fmt.Fprintf(&sb, "  SKIPPED:    %d\n", report.Skipped())
	sb.WriteString("\n")

	if len(report.Failures) > 0 || w.showEmpty {
		w.writeSection(&sb, "FAILURES")
		if len(report.Failures) == 0 {
			sb.WriteString("  No failed scan points\n")
		}
		for _, f := range report.Failures {
			fmt.Fprintf(&sb, "  [!] scan point %d failed at %s: %s\n", f.Index, nodeText(f.NodeID, f.DisplayName), f.Message)
		}
		sb.WriteString("\n")
	}

	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

// WriteStages outputs the stage listing in human-readable format.
func (w *SimpleWriter) WriteStages(stages []*stage.Descriptor) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, "REGISTERED STAGES")

	if len(stages) == 0 {
		sb.WriteString("No stages registered. Run \"reductree init\" or \"reductree plugins add\".\n\n")
	}
	for _, d := range stages {
		fmt.Fprintf(&sb, "%s (%s)\n", d.DisplayName, d.ImplementationName)
		fmt.Fprintf(&sb, "  kind: %s, dims: %s -> %s\n", d.Kind, dimString(d.InputDim), dimString(d.OutputDim))
		if d.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", d.Description)
		}
		if w.verbose {
			if d.Source != "" {
				fmt.Fprintf(&sb, "  source: %s\n", d.Source)
			}
			for _, p := range d.Parameters {
				fmt.Fprintf(&sb, "  - %s %s = %s", p.Name, p.TypeName(), defaultText(p))
				if p.AffectsShape {
					sb.WriteString(" [shape]")
				}
				if p.Description != "" {
					fmt.Fprintf(&sb, "  # %s", p.Description)
				}
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	pad := max((70-len(title))/2, 0)
	sb.WriteString(strings.Repeat(" ", pad) + title + "\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by reductree\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// statusText returns the status line of a run.
func statusText(report *RunReport) string {
	switch report.Status {
	case StatusCancelled:
		return fmt.Sprintf("CANCELLED (%d of %d scan points ran)", report.Completed, report.Total)
	case StatusFailed:
		return "FAILED - " + report.Error
	case StatusRunning:
		return "RUNNING"
	default:
		return "Complete"
	}
}

func nodeText(id int, displayName string) string {
	switch {
	case id == stage.NoNode:
		return "the tree"
	case displayName == "":
		return fmt.Sprintf("node %d", id)
	default:
		return fmt.Sprintf("node %d (%s)", id, displayName)
	}
}

func defaultText(p stage.ParamSpec) string {
	if p.Default.IsNull() {
		return "null"
	}
	return fmt.Sprint(stage.ToGo(p.Default))
}
