package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/reductree/internal/stage"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentString = "  "
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteRun outputs the run report in JSON format.
func (w *JSONWriter) WriteRun(report *RunReport) (int, error) {
	return w.writeJSON(report)
}

// StageEntry is the JSON form of a registered stage class.
type StageEntry struct {
	ImplementationName string           `json:"implementation_name"`
	DisplayName        string           `json:"display_name"`
	Kind               string           `json:"kind"`
	InputDim           int              `json:"input_dim"`
	OutputDim          int              `json:"output_dim"`
	Description        string           `json:"description,omitempty"`
	Source             string           `json:"source,omitempty"`
	Parameters         []ParameterEntry `json:"parameters"`
}

// ParameterEntry is the JSON form of a parameter schema entry.
type ParameterEntry struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Default      any    `json:"default"`
	Description  string `json:"description,omitempty"`
	AffectsShape bool   `json:"affects_shape,omitempty"`
}

// NewStageEntry converts a descriptor into its JSON form.
func NewStageEntry(d *stage.Descriptor) StageEntry {
	e := StageEntry{
		ImplementationName: d.ImplementationName,
		DisplayName:        d.DisplayName,
		Kind:               d.Kind.String(),
		InputDim:           d.InputDim,
		OutputDim:          d.OutputDim,
		Description:        d.Description,
		Source:             d.Source,
		Parameters:         make([]ParameterEntry, 0, len(d.Parameters)),
	}
	for _, p := range d.Parameters {
		e.Parameters = append(e.Parameters, ParameterEntry{
			Name:         p.Name,
			Type:         p.TypeName(),
			Default:      stage.ToGo(p.Default),
			Description:  p.Description,
			AffectsShape: p.AffectsShape,
		})
	}
	return e
}

// WriteStages outputs the stage listing in JSON format.
func (w *JSONWriter) WriteStages(stages []*stage.Descriptor) (int, error) {
	entries := make([]StageEntry, 0, len(stages))
	for _, d := range stages {
		entries = append(entries, NewStageEntry(d))
	}
	return w.writeJSON(entries)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, "", w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
