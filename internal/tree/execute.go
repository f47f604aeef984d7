package tree

import (
	"context"

	rlog "github.com/nao1215/reductree/internal/log"
	"github.com/nao1215/reductree/internal/stage"
)

// PrepareExecution prepares every stage in parent-before-child order.
//
// It does nothing when the tree was prepared before and has not changed
// since, unless forced. In test mode the stages see a context marked with
// stage.WithTestMode and the tree stays marked as changed, so the next
// regular run prepares again.
func (t *Tree) PrepareExecution(ctx context.Context, forced, testMode bool) error {
	if t.root == NoParent {
		return stage.NewUserConfigError("tree has no nodes")
	}
	if t.preExecuted && !t.changed && !forced {
		return nil
	}

	if testMode {
		ctx = stage.WithTestMode(ctx)
	}
	if err := t.prepareNode(ctx, t.root); err != nil {
		t.preExecuted = false
		return err
	}

	t.preExecuted = true
	if !testMode {
		t.changed = false
	}
	return nil
}

func (t *Tree) prepareNode(ctx context.Context, id int) error {
	n := t.nodes[id]
	if err := n.Stage.Prepare(rlog.WithNodeID(ctx, id)); err != nil {
		return stage.Attribute(err, id, n.DisplayName())
	}
	n.ResultShape = initialShape(n.Stage)
	for _, c := range n.Children {
		if err := t.prepareNode(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteProcess runs the chain for one scan point. The tree is prepared
// first when needed. index is stored in the sideband under
// stage.GlobalIndexKey; sb may be nil. The sideband is returned after every
// stage had the chance to amend it.
//
// The first error aborts the chain for this scan point. It is attributed to
// the node that raised it: a *stage.UserConfigError keeps its type and
// any other error is wrapped in a *stage.NodeError.
func (t *Tree) ExecuteProcess(ctx context.Context, index int, arg stage.Payload, sb stage.Sideband) (stage.Sideband, error) {
	if err := t.PrepareExecution(ctx, false, false); err != nil {
		return sb, err
	}
	return t.run(ctx, index, arg, sb)
}

func (t *Tree) run(ctx context.Context, index int, arg stage.Payload, sb stage.Sideband) (stage.Sideband, error) {
	if sb == nil {
		sb = stage.Sideband{}
	}
	sb[stage.GlobalIndexKey] = index

	for _, n := range t.nodes {
		n.Result = nil
	}

	t.running = true
	defer func() { t.running = false }()

	return sb, t.executeChain(ctx, t.root, arg, sb)
}

// executeChain processes a node and then its children in insertion order,
// depth first.
func (t *Tree) executeChain(ctx context.Context, id int, in stage.Payload, sb stage.Sideband) error {
	n := t.nodes[id]
	out, err := n.Stage.Process(rlog.WithNodeID(ctx, id), in, sb)
	if err != nil {
		return stage.Attribute(err, id, n.DisplayName())
	}
	if out != nil {
		shape := out.Shape()
		if dim := n.Stage.Descriptor().OutputDim; dim != stage.UnknownDim && len(shape) != dim {
			err := stage.NewUserConfigError("stage declares %d-dimensional output but returned shape %v", dim, shape)
			return stage.Attribute(err, id, n.DisplayName())
		}
		n.ResultShape = shape.Clone()
	}
	if n.KeepResults || n.IsLeaf() {
		n.Result = out
	}
	for _, c := range n.Children {
		if err := t.executeChain(ctx, c, out, sb); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteSinglePlugin prepares and runs one node on its own, bypassing the
// rest of the chain.
func (t *Tree) ExecuteSinglePlugin(ctx context.Context, id int, arg stage.Payload, sb stage.Sideband) (stage.Payload, stage.Sideband, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, sb, &NodeNotFoundError{ID: id}
	}
	if sb == nil {
		sb = stage.Sideband{}
	}
	if err := n.Stage.Prepare(ctx); err != nil {
		return nil, sb, stage.Attribute(err, id, n.DisplayName())
	}
	out, err := n.Stage.Process(ctx, arg, sb)
	if err != nil {
		return nil, sb, stage.Attribute(err, id, n.DisplayName())
	}
	return out, sb, nil
}

// GetAllNodesWithResults returns the nodes that carry results: leaves and
// keep-results nodes, excluding Output-kind stages.
func (t *Tree) GetAllNodesWithResults() []Node {
	var out []Node
	for _, id := range t.ids() {
		if n := t.nodes[id]; n.HasResults() {
			out = append(out, n.snapshot())
		}
	}
	return out
}

// GetCurrentResults returns the cached results of the last chain execution
// keyed by node id. Nodes without a result yet are skipped.
func (t *Tree) GetCurrentResults() map[int]stage.Payload {
	results := make(map[int]stage.Payload)
	for _, id := range t.ids() {
		n := t.nodes[id]
		if n.HasResults() && n.Result != nil {
			results[id] = n.Result
		}
	}
	return results
}

// GetAllResultShapes returns the result shapes of the result-carrying nodes
// whose stage declares a known output dimensionality.
//
// When a shape is still unresolved the chain runs once for scan point 0 in
// test mode and the observed shapes are used. The cached results of that
// run are discarded. A shape that is still unresolved afterwards is a
// *stage.UserConfigError naming the node.
func (t *Tree) GetAllResultShapes(ctx context.Context) (map[int]stage.Shape, error) {
	var selected []*Node
	needRun := false
	for _, id := range t.ids() {
		n := t.nodes[id]
		if !n.HasResults() || !n.Stage.Descriptor().OutputKnown() {
			continue
		}
		selected = append(selected, n)
		if n.ResultShape == nil || !n.ResultShape.Known() {
			needRun = true
		}
	}

	if needRun {
		if err := t.PrepareExecution(ctx, false, true); err != nil {
			return nil, err
		}
		sb := stage.Sideband{stage.TestModeKey: true}
		if _, err := t.run(stage.WithTestMode(ctx), 0, nil, sb); err != nil {
			return nil, err
		}
		for _, n := range t.nodes {
			n.Result = nil
		}
	}

	shapes := make(map[int]stage.Shape, len(selected))
	for _, n := range selected {
		if n.ResultShape == nil || !n.ResultShape.Known() {
			err := stage.NewUserConfigError("result shape %s is unresolved after running the chain", n.ResultShape)
			return nil, stage.Attribute(err, n.ID, n.DisplayName())
		}
		shapes[n.ID] = n.ResultShape.Clone()
	}
	return shapes, nil
}
