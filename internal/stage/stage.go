package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stage is the contract every processing unit implements.
type Stage interface {
	// Descriptor returns the class-level metadata of the stage.
	Descriptor() *Descriptor

	// Params returns the parameter values of this instance.
	Params() *Params

	// Prepare is called once per run before the first Process call.
	// It must be idempotent. Missing or semantically invalid parameters are
	// reported with a *UserConfigError.
	Prepare(ctx context.Context) error

	// Process consumes one payload and produces one payload. The sideband is
	// shared with the rest of the chain and may be amended in place.
	Process(ctx context.Context, in Payload, sb Sideband) (Payload, error)
}

// ShapeDeclarer is implemented by stages whose output shape is known before
// the first Process call.
type ShapeDeclarer interface {
	DeclareResultShape() Shape
}

// Factory creates a fresh stage instance for a descriptor.
type Factory func(desc *Descriptor) (Stage, error)

// Descriptor is the class-level metadata of a stage.
type Descriptor struct {
	// ImplementationName is the unique technical identifier. It also names
	// the compiled factory that builds instances.
	ImplementationName string

	// DisplayName is the unique user-facing identifier.
	DisplayName string

	Kind Kind

	// InputDim and OutputDim are the declared dimensionalities.
	// UnknownDim means "unknown until run".
	InputDim  int
	OutputDim int

	Description string

	// Parameters is the ordered parameter schema.
	Parameters []ParamSpec

	// Source is the manifest file the descriptor was read from.
	Source string
}

// Validate checks that the descriptor is well formed.
func (d *Descriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ImplementationName) == "" {
		errs = append(errs, errors.New("implementation name is empty"))
	}
	if strings.TrimSpace(d.DisplayName) == "" {
		errs = append(errs, errors.New("display name is empty"))
	}
	if d.InputDim < UnknownDim || d.OutputDim < UnknownDim {
		errs = append(errs, fmt.Errorf("invalid dimensionality %d -> %d", d.InputDim, d.OutputDim))
	}
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			errs = append(errs, errors.New("parameter with empty name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate parameter %q", p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// OutputKnown reports whether the declared output dimensionality is known.
func (d *Descriptor) OutputKnown() bool {
	return d.OutputDim >= 0
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Parameters = make([]ParamSpec, len(d.Parameters))
	copy(c.Parameters, d.Parameters)
	return &c
}

// Base carries the descriptor and parameters of a stage. Concrete stages
// embed it and implement Process.
type Base struct {
	desc   *Descriptor
	params *Params
}

// NewBase creates a Base with parameters initialized to their defaults.
func NewBase(desc *Descriptor) Base {
	return Base{desc: desc, params: NewParams(desc.Parameters)}
}

// Descriptor implements Stage.
func (b *Base) Descriptor() *Descriptor {
	return b.desc
}

// Params implements Stage.
func (b *Base) Params() *Params {
	return b.params
}

// Prepare implements Stage as a no-op.
func (b *Base) Prepare(context.Context) error {
	return nil
}
