package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a tree file encoding.
type Format string

const (
	// FormatYAML is the YAML encoding (.yaml, .yml).
	FormatYAML Format = "yaml"
	// FormatJSON is the JSON encoding (.json).
	FormatJSON Format = "json"
)

type codec struct {
	encode func(w io.Writer, records []NodeRecord) error
	decode func(data []byte) ([]NodeRecord, error)
}

var codecs = map[Format]codec{
	FormatYAML: {encode: encodeYAML, decode: decodeYAML},
	FormatJSON: {encode: encodeJSON, decode: decodeJSON},
}

var extensions = map[string]Format{
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".json": FormatJSON,
}

// FormatForPath selects the format from a file extension.
func FormatForPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := extensions[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownFormat, ext, strings.Join(SupportedExtensions(), ", "))
	}
	return f, nil
}

// SupportedExtensions returns the file extensions with a registered codec.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Encode writes records in the given format.
func Encode(w io.Writer, format Format, records []NodeRecord) error {
	c, ok := codecs[format]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if records == nil {
		records = []NodeRecord{}
	}
	return c.encode(w, records)
}

// Decode reads records in the given format. A document whose top level is
// not a list fails with ErrNotList.
func Decode(r io.Reader, format Format) ([]NodeRecord, error) {
	c, ok := codecs[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// ReadFile decodes a tree file, choosing the format by extension.
func ReadFile(path string) ([]NodeRecord, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is provided by the user
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("read tree file %s: %w", path, err)
	}
	return records, nil
}

// WriteFile encodes records into a tree file, choosing the format by
// extension.
func WriteFile(path string, records []NodeRecord) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, format, records); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Load restores the tree from a file.
func (t *Tree) Load(path string) error {
	records, err := ReadFile(path)
	if err != nil {
		return err
	}
	return t.RestoreFromListOfNodes(records)
}

// Save writes the tree to a file.
func (t *Tree) Save(path string) error {
	return WriteFile(path, t.ExportToListOfNodes())
}

func encodeYAML(w io.Writer, records []NodeRecord) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return err
	}
	return enc.Close()
}

func decodeYAML(data []byte) ([]NodeRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return []NodeRecord{}, nil
	}
	if len(doc.Content) != 1 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, ErrNotList
	}
	var records []NodeRecord
	if err := doc.Content[0].Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func encodeJSON(w io.Writer, records []NodeRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func decodeJSON(data []byte) ([]NodeRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []NodeRecord{}, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrNotList
	}
	var records []NodeRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrNotList, err)
		}
		return nil, err
	}
	return records, nil
}
