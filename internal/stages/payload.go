package stages

import (
	"fmt"

	"github.com/nao1215/reductree/internal/stage"
)

// Vector is a one-dimensional payload.
type Vector []float64

// Shape implements stage.Payload.
func (v Vector) Shape() stage.Shape {
	return stage.Shape{len(v)}
}

// Scalar is a zero-dimensional payload.
type Scalar float64

// Shape implements stage.Payload.
func (Scalar) Shape() stage.Shape {
	return stage.Shape{}
}

// asVector returns the input as a Vector. Any other payload type means the
// tree wires incompatible stages together.
func asVector(in stage.Payload) (Vector, error) {
	v, ok := in.(Vector)
	if !ok {
		return nil, fmt.Errorf("expected a vector input, got %T", in)
	}
	return v, nil
}
