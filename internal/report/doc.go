// Package report provides report generation and output functionality.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - MarkdownWriter: Markdown output with a mermaid chart of the outcome
//   - JSONWriter: Structured JSON output for tool integration
//
// Every writer renders two documents: the summary of a run and the listing
// of the registered stage classes.
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
