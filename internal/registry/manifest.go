package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/reductree/internal/stage"
)

// yamlManifest is the YAML form of a stage manifest.
type yamlManifest struct {
	Implementation string      `yaml:"implementation"`
	DisplayName    string      `yaml:"display_name"`
	Kind           string      `yaml:"kind"`
	InputDim       *int        `yaml:"input_dim"`
	OutputDim      *int        `yaml:"output_dim"`
	Description    string      `yaml:"description"`
	Parameters     []yamlParam `yaml:"parameters"`
}

type yamlParam struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Default      any    `yaml:"default"`
	Description  string `yaml:"description"`
	AffectsShape bool   `yaml:"affects_shape"`
}

// hclManifest is the HCL form of a stage manifest:
//
//	stage "scale" {
//	  display_name = "Scale Values"
//	  kind         = "processing"
//	  input_dim    = 1
//	  output_dim   = 1
//
//	  parameter "factor" {
//	    type    = number
//	    default = 1
//	  }
//	}
type hclManifest struct {
	Stage hclStage `hcl:"stage,block"`
}

type hclStage struct {
	Implementation string     `hcl:"implementation,label"`
	DisplayName    string     `hcl:"display_name"`
	Kind           string     `hcl:"kind"`
	InputDim       *int       `hcl:"input_dim,optional"`
	OutputDim      *int       `hcl:"output_dim,optional"`
	Description    string     `hcl:"description,optional"`
	Parameters     []hclParam `hcl:"parameter,block"`
}

type hclParam struct {
	Name         string         `hcl:"name,label"`
	Type         hcl.Expression `hcl:"type,optional"`
	Default      cty.Value      `hcl:"default,optional"`
	Description  string         `hcl:"description,optional"`
	AffectsShape bool           `hcl:"affects_shape,optional"`
}

// parseManifest reads a manifest file and returns the descriptor it declares.
func parseManifest(path string) (*stage.Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifests come from registered search paths
	if err != nil {
		return nil, err
	}

	var desc *stage.Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		desc, err = parseHCLManifest(path, data)
	default:
		desc, err = parseYAMLManifest(data)
	}
	if err != nil {
		return nil, err
	}

	desc.Source = path
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func parseYAMLManifest(data []byte) (*stage.Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m yamlManifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty manifest")
		}
		return nil, err
	}

	kind, err := stage.ParseKind(m.Kind)
	if err != nil {
		return nil, err
	}

	desc := &stage.Descriptor{
		ImplementationName: m.Implementation,
		DisplayName:        m.DisplayName,
		Kind:               kind,
		InputDim:           dimOrUnknown(m.InputDim),
		OutputDim:          dimOrUnknown(m.OutputDim),
		Description:        strings.TrimSpace(m.Description),
	}
	for _, p := range m.Parameters {
		ty, err := stage.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		def, err := stage.FromGo(p.Default)
		if err != nil {
			return nil, fmt.Errorf("parameter %q default: %w", p.Name, err)
		}
		desc.Parameters = append(desc.Parameters, stage.ParamSpec{
			Name:         p.Name,
			Type:         ty,
			Default:      def,
			Description:  strings.TrimSpace(p.Description),
			AffectsShape: p.AffectsShape,
		})
	}
	return desc, nil
}

func parseHCLManifest(path string, data []byte) (*stage.Descriptor, error) {
	var m hclManifest
	if err := hclsimple.Decode(path, data, nil, &m); err != nil {
		return nil, err
	}

	kind, err := stage.ParseKind(m.Stage.Kind)
	if err != nil {
		return nil, err
	}

	desc := &stage.Descriptor{
		ImplementationName: m.Stage.Implementation,
		DisplayName:        m.Stage.DisplayName,
		Kind:               kind,
		InputDim:           dimOrUnknown(m.Stage.InputDim),
		OutputDim:          dimOrUnknown(m.Stage.OutputDim),
		Description:        strings.TrimSpace(m.Stage.Description),
	}
	for _, p := range m.Stage.Parameters {
		ty, err := hclParamType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		desc.Parameters = append(desc.Parameters, stage.ParamSpec{
			Name:         p.Name,
			Type:         ty,
			Default:      p.Default,
			Description:  strings.TrimSpace(p.Description),
			AffectsShape: p.AffectsShape,
		})
	}
	return desc, nil
}

// hclParamType resolves a "type = ..." attribute. A missing attribute
// decodes to a static null expression and means "any".
func hclParamType(expr hcl.Expression) (cty.Type, error) {
	if expr == nil {
		return cty.DynamicPseudoType, nil
	}
	ty, diags := typeexpr.TypeConstraint(expr)
	if !diags.HasErrors() {
		return ty, nil
	}
	if v, valDiags := expr.Value(nil); !valDiags.HasErrors() && v.IsNull() {
		return cty.DynamicPseudoType, nil
	}
	return cty.NilType, errors.New(diags.Error())
}

func dimOrUnknown(d *int) int {
	if d == nil {
		return stage.UnknownDim
	}
	return *d
}
