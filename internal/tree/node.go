package tree

import (
	"slices"

	"github.com/nao1215/reductree/internal/stage"
)

// NoParent is the parent id of the root node.
const NoParent = -1

// Node is one position in the tree. Values returned by Tree accessors are
// snapshots; mutate the tree through its methods.
type Node struct {
	ID     int
	Parent int

	// Children are kept in insertion order, which is the execution order.
	Children []int

	Stage stage.Stage

	// KeepResults caches the result of an inner node. Leaves always keep
	// their result.
	KeepResults bool

	// Result is the output of the last chain execution, nil until computed.
	Result stage.Payload

	// ResultShape is the declared or observed output shape, nil when the
	// output dimensionality is unknown.
	ResultShape stage.Shape
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// HasResults reports whether the node contributes to the run results:
// leaves and keep-results nodes, except Output-kind sinks.
func (n *Node) HasResults() bool {
	if n.Stage.Descriptor().Kind == stage.KindOutput {
		return false
	}
	return n.IsLeaf() || n.KeepResults
}

// DisplayName returns the display name of the node's stage.
func (n *Node) DisplayName() string {
	return n.Stage.Descriptor().DisplayName
}

func (n *Node) snapshot() Node {
	c := *n
	c.Children = slices.Clone(n.Children)
	c.ResultShape = n.ResultShape.Clone()
	return c
}

// initialShape is the shape known before the chain runs.
func initialShape(s stage.Stage) stage.Shape {
	if d, ok := s.(stage.ShapeDeclarer); ok {
		return d.DeclareResultShape().Clone()
	}
	return stage.UnknownShape(s.Descriptor().OutputDim)
}
