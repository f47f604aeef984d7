package tree

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zclconf/go-cty/cty"

	"github.com/nao1215/reductree/internal/stage"
)

type vec []float64

func (v vec) Shape() stage.Shape { return stage.Shape{len(v)} }

type scalar float64

func (scalar) Shape() stage.Shape { return stage.Shape{} }

// recorder records how often it is prepared and which scan points it
// processed. Its behavior is driven by parameters.
type recorder struct {
	stage.Base
	reduce    bool
	prepares  int
	processed []int
}

func (p *recorder) Prepare(context.Context) error {
	p.prepares++
	return nil
}

func (p *recorder) Process(_ context.Context, in stage.Payload, sb stage.Sideband) (stage.Payload, error) {
	idx, _ := sb.GlobalIndex()
	p.processed = append(p.processed, idx)

	failAt, err := p.Params().Int("fail_at")
	if err != nil {
		return nil, err
	}
	if failAt == idx {
		return nil, stage.NewUserConfigError("cannot process scan point %d", idx)
	}
	if silent, _ := p.Params().Bool("silent"); silent {
		return nil, nil
	}

	if in == nil {
		n, err := p.Params().Int("length")
		if err != nil {
			return nil, err
		}
		out := make(vec, n)
		for i := range out {
			out[i] = float64(idx)
		}
		return out, nil
	}
	if p.reduce {
		var sum float64
		for _, x := range in.(vec) {
			sum += x
		}
		return scalar(sum), nil
	}
	return in, nil
}

var recorderParams = []stage.ParamSpec{
	{Name: "length", Type: cty.Number, Default: cty.NumberIntVal(3), AffectsShape: true},
	{Name: "fail_at", Type: cty.Number, Default: cty.NumberIntVal(-1)},
	{Name: "silent", Type: cty.Bool, Default: cty.False},
	{Name: "label", Type: cty.String, Default: cty.NullVal(cty.String)},
}

func descriptor(impl string, kind stage.Kind, in, out int) *stage.Descriptor {
	return &stage.Descriptor{
		ImplementationName: impl,
		DisplayName:        "Recorder " + impl,
		Kind:               kind,
		InputDim:           in,
		OutputDim:          out,
		Parameters:         recorderParams,
	}
}

// fakeResolver instantiates recorders for a fixed set of classes.
type fakeResolver struct {
	classes map[string]*stage.Descriptor
}

func newResolver() *fakeResolver {
	return &fakeResolver{classes: map[string]*stage.Descriptor{
		"loader":   descriptor("loader", stage.KindInput, stage.UnknownDim, 1),
		"proc":     descriptor("proc", stage.KindProcessing, 1, 1),
		"reduce":   descriptor("reduce", stage.KindProcessing, 1, 0),
		"squash":   descriptor("squash", stage.KindProcessing, 1, 1),
		"plane":    descriptor("plane", stage.KindProcessing, 2, 2),
		"sink":     descriptor("sink", stage.KindOutput, 1, stage.UnknownDim),
		"abstract": descriptor("abstract", stage.KindBase, stage.UnknownDim, stage.UnknownDim),
	}}
}

func (f *fakeResolver) Instantiate(impl string) (stage.Stage, error) {
	desc, ok := f.classes[impl]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", impl)
	}
	return &recorder{Base: stage.NewBase(desc.Clone()), reduce: impl == "reduce" || impl == "squash"}, nil
}

// fataler is satisfied by *testing.T and *rapid.T.
type fataler interface {
	Fatalf(format string, args ...any)
}

func (f *fakeResolver) mustStage(t fataler, impl string) stage.Stage {
	s, err := f.Instantiate(impl)
	if err != nil {
		t.Fatalf("failed to instantiate %s: %v", impl, err)
	}
	return s
}

func newTestTree(r Resolver) *Tree {
	return New(r, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// mustAdd attaches a new stage and fails the test on error.
func mustAdd(t fataler, tr *Tree, r *fakeResolver, impl string, opts ...AddOption) int {
	id, err := tr.CreateAndAddNode(r.mustStage(t, impl), opts...)
	if err != nil {
		t.Fatalf("CreateAndAddNode(%s) failed: %v", impl, err)
	}
	return id
}

func recorderAt(t fataler, tr *Tree, id int) *recorder {
	n, ok := tr.Node(id)
	if !ok {
		t.Fatalf("node %d does not exist", id)
	}
	return n.Stage.(*recorder)
}
