package stage

import (
	"strconv"
	"strings"
)

// UnknownDim marks a dimension or dimensionality that is not known until
// the chain has run.
const UnknownDim = -1

// Shape is the size of a payload along each of its dimensions.
// A zero-length shape describes a scalar.
type Shape []int

// UnknownShape returns a shape of ndim dimensions, all unknown.
// A negative ndim yields nil.
func UnknownShape(ndim int) Shape {
	if ndim < 0 {
		return nil
	}
	s := make(Shape, ndim)
	for i := range s {
		s[i] = UnknownDim
	}
	return s
}

// Known reports whether every dimension of the shape is resolved.
func (s Shape) Known() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the shape as a tuple, e.g. "(3, -1)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Payload is the data handed from one stage to the next.
// The engine only inspects its shape.
type Payload interface {
	Shape() Shape
}
