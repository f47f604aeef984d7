package stages

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/reductree/internal/stage"
)

type sum struct {
	stage.Base
}

func newSum(desc *stage.Descriptor) (stage.Stage, error) {
	return &sum{Base: stage.NewBase(desc)}, nil
}

// DeclareResultShape implements stage.ShapeDeclarer.
func (s *sum) DeclareResultShape() stage.Shape {
	return stage.Shape{}
}

func (s *sum) Process(_ context.Context, in stage.Payload, _ stage.Sideband) (stage.Payload, error) {
	v, err := asVector(in)
	if err != nil {
		return nil, err
	}
	return Scalar(floats.Sum(v)), nil
}
