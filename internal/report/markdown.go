package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/reductree/internal/stage"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for lab notebooks and sharing run results.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteRun outputs the run summary in Markdown format.
func (w *MarkdownWriter) WriteRun(report *RunReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Run Report")
	md.PlainText("")

	rows := [][]string{
		{"Run", "`" + report.RunID + "`"},
		{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Status", markdownStatus(report)},
	}
	if report.TreeFile != "" {
		rows = append(rows, []string{"Tree", "`" + report.TreeFile + "`"})
	}
	if report.TreeDigest != "" {
		rows = append(rows, []string{"Tree Digest", "`" + truncateString(report.TreeDigest, 16) + "`"})
	}
	if elapsed := report.Elapsed(); elapsed > 0 {
		rows = append(rows, []string{"Elapsed", elapsed.Round(time.Millisecond).String()})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writePoints(md, report)
	w.writeFailures(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writePoints writes the scan point counts with a chart of the outcome.
func (w *MarkdownWriter) writePoints(md *markdown.Markdown, report *RunReport) {
	md.H2("Scan Points")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"✅ Succeeded", strconv.Itoa(report.Succeeded)},
			{"❌ Failed", strconv.Itoa(report.Failed)},
			{"⏭️ Skipped", strconv.Itoa(report.Skipped())},
			{"**Total**", "**" + strconv.Itoa(report.Total) + "**"},
		},
	})
	md.PlainText("")

	if report.Completed > 0 {
		w.writePieChart(md, report)
	}

	switch {
	case report.Status == StatusFailed:
		md.Cautionf("The run was aborted: %s", report.Error)
	case report.Status == StatusCancelled:
		md.Warningf("The run was cancelled after %d of %d scan points.", report.Completed, report.Total)
	case report.Failed > 0:
		md.Importantf("%d scan point(s) failed with a configuration error.", report.Failed)
	default:
		md.Tip("Every scan point succeeded.")
	}
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of the scan point outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *RunReport) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Scan Point Outcome"),
		piechart.WithShowData(true),
	)

	if report.Succeeded > 0 {
		chart.LabelAndIntValue("Succeeded", uint64(report.Succeeded))
	}
	if report.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(report.Failed))
	}
	if skipped := report.Skipped(); skipped > 0 {
		chart.LabelAndIntValue("Skipped", uint64(skipped))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeFailures writes one table row per failed scan point.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *RunReport) {
	if len(report.Failures) == 0 {
		return
	}

	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, len(report.Failures))
	for i, f := range report.Failures {
		node := "-"
		if f.NodeID != stage.NoNode {
			node = strconv.Itoa(f.NodeID)
		}
		name := f.DisplayName
		if name == "" {
			name = "-"
		}
		rows[i] = []string{
			strconv.Itoa(f.Index),
			node,
			name,
			truncateString(escapePipes(f.Message), 80),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Scan Point", "Node", "Stage", "Message"},
		Rows:   rows,
	})
	md.PlainText("")
}

// WriteStages outputs the stage listing in Markdown format.
func (w *MarkdownWriter) WriteStages(stages []*stage.Descriptor) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Registered Stages")
	md.PlainText("")

	if len(stages) == 0 {
		md.Note("No stages registered.")
		md.PlainText("")
	} else {
		rows := make([][]string, len(stages))
		for i, d := range stages {
			rows[i] = []string{
				d.DisplayName,
				"`" + d.ImplementationName + "`",
				d.Kind.String(),
				dimString(d.InputDim) + " → " + dimString(d.OutputDim),
				strconv.Itoa(len(d.Parameters)),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Display Name", "Implementation", "Kind", "Dims", "Parameters"},
			Rows:   rows,
		})
		md.PlainText("")

		for _, d := range stages {
			if d.Description != "" || len(d.Parameters) > 0 {
				md.Details(d.DisplayName, stageDetails(d))
			}
		}
		md.PlainText("")
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func stageDetails(d *stage.Descriptor) string {
	var sb strings.Builder
	if d.Description != "" {
		sb.WriteString(d.Description)
		sb.WriteString("\n\n")
	}
	for _, p := range d.Parameters {
		sb.WriteString("- `" + p.Name + "` (" + p.TypeName() + ", default " + defaultText(p) + ")")
		if p.Description != "" {
			sb.WriteString(": " + p.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by reductree*")
}

func markdownStatus(report *RunReport) string {
	switch report.Status {
	case StatusCancelled:
		return "⚠️ Cancelled"
	case StatusFailed:
		return "❌ Failed"
	case StatusRunning:
		return "⏳ Running"
	default:
		return "✅ Complete"
	}
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
