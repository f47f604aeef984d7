package stages

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/reductree/internal/stage"
)

// ramp generates a synthetic vector per scan point.
type ramp struct {
	stage.Base
	length int
	slope  float64
}

func newRamp(desc *stage.Descriptor) (stage.Stage, error) {
	return &ramp{Base: stage.NewBase(desc)}, nil
}

func (r *ramp) Prepare(context.Context) error {
	length, err := r.Params().Int("length")
	if err != nil {
		return err
	}
	if length < 1 {
		return stage.NewUserConfigError("length must be at least 1, got %d", length)
	}
	slope, err := r.Params().Float("slope")
	if err != nil {
		return err
	}
	r.length, r.slope = length, slope
	return nil
}

// DeclareResultShape implements stage.ShapeDeclarer.
func (r *ramp) DeclareResultShape() stage.Shape {
	if r.length < 1 {
		return stage.UnknownShape(1)
	}
	return stage.Shape{r.length}
}

func (r *ramp) Process(_ context.Context, _ stage.Payload, sb stage.Sideband) (stage.Payload, error) {
	index, ok := sb.GlobalIndex()
	if !ok {
		return nil, stage.NewUserConfigError("sideband carries no %s", stage.GlobalIndexKey)
	}
	out := make(Vector, r.length)
	for i := range out {
		out[i] = r.slope * float64(i)
	}
	floats.AddConst(float64(index), out)
	return out, nil
}
