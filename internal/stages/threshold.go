package stages

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/reductree/internal/stage"
)

// thresholdFlag passes its input through and writes into the sideband
// whether the maximum of the input exceeds a threshold.
type thresholdFlag struct {
	stage.Base
	threshold float64
	key       string
}

func newThresholdFlag(desc *stage.Descriptor) (stage.Stage, error) {
	return &thresholdFlag{Base: stage.NewBase(desc)}, nil
}

func (t *thresholdFlag) Prepare(context.Context) error {
	threshold, err := t.Params().Float("threshold")
	if err != nil {
		return err
	}
	key, err := t.Params().String("key")
	if err != nil {
		return err
	}
	if key == stage.GlobalIndexKey {
		return stage.NewUserConfigError("key %q is reserved", key)
	}
	t.threshold, t.key = threshold, key
	return nil
}

func (t *thresholdFlag) Process(_ context.Context, in stage.Payload, sb stage.Sideband) (stage.Payload, error) {
	v, err := asVector(in)
	if err != nil {
		return nil, err
	}
	sb[t.key] = len(v) > 0 && floats.Max(v) > t.threshold
	return v, nil
}
