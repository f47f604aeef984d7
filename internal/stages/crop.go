package stages

import (
	"context"
	"slices"

	"github.com/nao1215/reductree/internal/stage"
)

// crop keeps the elements in [start, stop).
type crop struct {
	stage.Base
	start int
	stop  int // -1 keeps everything after start
}

func newCrop(desc *stage.Descriptor) (stage.Stage, error) {
	return &crop{Base: stage.NewBase(desc), stop: -1}, nil
}

func (c *crop) Prepare(context.Context) error {
	start, err := c.Params().Int("start")
	if err != nil {
		return err
	}
	if start < 0 {
		return stage.NewUserConfigError("start must not be negative, got %d", start)
	}

	stop := -1
	if v, _ := c.Params().Value("stop"); !v.IsNull() {
		if stop, err = c.Params().Int("stop"); err != nil {
			return err
		}
		if stop <= start {
			return stage.NewUserConfigError("crop range [%d, %d) is empty", start, stop)
		}
	}
	c.start, c.stop = start, stop
	return nil
}

// DeclareResultShape implements stage.ShapeDeclarer.
func (c *crop) DeclareResultShape() stage.Shape {
	if c.stop < 0 {
		return stage.UnknownShape(1)
	}
	return stage.Shape{c.stop - c.start}
}

func (c *crop) Process(_ context.Context, in stage.Payload, _ stage.Sideband) (stage.Payload, error) {
	v, err := asVector(in)
	if err != nil {
		return nil, err
	}
	stop := c.stop
	if stop < 0 {
		stop = len(v)
	}
	if c.start >= len(v) || stop > len(v) {
		return nil, stage.NewUserConfigError("crop range [%d, %d) exceeds input length %d", c.start, stop, len(v))
	}
	return slices.Clone(v[c.start:stop]), nil
}
