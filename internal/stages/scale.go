package stages

import (
	"context"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/reductree/internal/stage"
)

// scale multiplies every element by a factor.
type scale struct {
	stage.Base
	factor float64
}

func newScale(desc *stage.Descriptor) (stage.Stage, error) {
	return &scale{Base: stage.NewBase(desc)}, nil
}

func (s *scale) Prepare(context.Context) error {
	factor, err := s.Params().Float("factor")
	if err != nil {
		return err
	}
	s.factor = factor
	return nil
}

func (s *scale) Process(_ context.Context, in stage.Payload, _ stage.Sideband) (stage.Payload, error) {
	v, err := asVector(in)
	if err != nil {
		return nil, err
	}
	// Upstream nodes may keep their result, so never scale in place.
	out := slices.Clone(v)
	floats.Scale(s.factor, out)
	return out, nil
}
