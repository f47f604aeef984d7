package report

import (
	"io"
	"strconv"

	"github.com/nao1215/reductree/internal/stage"
)

// Writer defines the interface for report output.
//
// Design decision: We use an interface to allow different output formats
// and destinations. This enables writing to files or stdout with the same
// API.
type Writer interface {
	// WriteRun outputs the summary of a run.
	// Returns the number of bytes written and any error encountered.
	WriteRun(report *RunReport) (int, error)

	// WriteStages outputs the listing of registered stage classes.
	WriteStages(stages []*stage.Descriptor) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
//
// Design decision: We implement this as a separate type rather than
// using io.MultiWriter because our Writer interface is different
// from io.Writer - we write reports, not raw bytes.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteRun outputs the run report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) WriteRun(report *RunReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteRun(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteStages outputs the stage listing to all configured Writers.
func (m *MultiWriter) WriteStages(stages []*stage.Descriptor) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteStages(stages)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// dimString renders a declared dimensionality.
func dimString(d int) string {
	if d == stage.UnknownDim {
		return "?"
	}
	return strconv.Itoa(d)
}
