package tree

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/nao1215/reductree/internal/stage"
)

// Resolver creates stage instances by implementation name.
// *registry.Registry satisfies it.
type Resolver interface {
	Instantiate(implementationName string) (stage.Stage, error)
}

// State is the lifecycle state of a tree.
type State int

const (
	// StateEmpty means the tree has no root.
	StateEmpty State = iota
	// StateBuilding means the tree changed since it was last checked or
	// prepared.
	StateBuilding
	// StateValidated means the last consistency check found no problems
	// and nothing changed since.
	StateValidated
	// StatePrepared means every stage is prepared for the current structure.
	StatePrepared
	// StateRunning means a chain execution is in progress.
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateValidated:
		return "validated"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Tree is a single rooted tree of stage instances.
//
// Design decision: nodes are stored in an arena keyed by id and refer to
// each other by id. The root is only an id stored on the tree.
type Tree struct {
	resolver Resolver
	logger   *slog.Logger

	nodes     map[int]*Node
	root      int
	nextID    int
	lastAdded int

	// changed is set by structural mutations and shape-affecting parameter
	// changes. Only a successful non-test PrepareExecution clears it.
	changed     bool
	preExecuted bool
	validated   bool
	running     bool
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger for the tree.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// New creates an empty tree. resolver is used by RestoreFromListOfNodes and
// Copy to instantiate stages; it may be nil for trees built by hand.
func New(resolver Resolver, opts ...Option) *Tree {
	t := &Tree{
		resolver: resolver,
		logger:   slog.Default(),
	}
	t.reset()
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tree) reset() {
	t.nodes = make(map[int]*Node)
	t.root = NoParent
	t.nextID = 0
	t.lastAdded = NoParent
	t.changed = true
	t.preExecuted = false
	t.validated = false
}

func (t *Tree) markChanged() {
	t.changed = true
	t.validated = false
}

// AddOption configures CreateAndAddNode.
type AddOption func(*addOptions)

type addOptions struct {
	parent    int
	hasParent bool
	id        int
	hasID     bool
}

// UnderParent attaches the new node below parent instead of below the most
// recently added node.
func UnderParent(parent int) AddOption {
	return func(o *addOptions) {
		o.parent = parent
		o.hasParent = true
	}
}

// WithID assigns an explicit node id instead of the next free one.
func WithID(id int) AddOption {
	return func(o *addOptions) {
		o.id = id
		o.hasID = true
	}
}

// CreateAndAddNode attaches s as a new node and returns its id.
//
// If the tree is empty the node becomes root and any parent is ignored.
// Otherwise the node is attached below the given parent or, without one,
// below the most recently added node so chains can be built by repeated
// calls. Base-kind stages are rejected with stage.ErrAbstract.
func (t *Tree) CreateAndAddNode(s stage.Stage, opts ...AddOption) (int, error) {
	if err := checkAttachable(s); err != nil {
		return NoParent, err
	}

	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := t.nextID
	if o.hasID {
		if o.id < 0 {
			return NoParent, &StructuralError{NodeID: o.id, Reason: "node ids must not be negative"}
		}
		if _, exists := t.nodes[o.id]; exists {
			return NoParent, &StructuralError{NodeID: o.id, Reason: "node id already in use"}
		}
		id = o.id
	}

	parent := NoParent
	if t.root != NoParent {
		parent = t.lastAdded
		if o.hasParent {
			parent = o.parent
		}
		p, ok := t.nodes[parent]
		if !ok {
			return NoParent, &NodeNotFoundError{ID: parent}
		}
		p.Children = append(p.Children, id)
	}

	t.nodes[id] = &Node{
		ID:          id,
		Parent:      parent,
		Stage:       s,
		ResultShape: initialShape(s),
	}
	if parent == NoParent {
		t.root = id
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}
	t.lastAdded = id
	t.markChanged()

	t.logger.Debug("Added node.", "node_id", id, "parent_id", parent, "stage", s.Descriptor().DisplayName)
	return id, nil
}

func checkAttachable(s stage.Stage) error {
	if s == nil {
		return ErrNilStage
	}
	if !s.Descriptor().Kind.Runnable() {
		return fmt.Errorf("%w: %s", stage.ErrAbstract, s.Descriptor().ImplementationName)
	}
	return nil
}

// ReplaceNodePlugin swaps the stage of an existing node, keeping its
// position in the tree.
func (t *Tree) ReplaceNodePlugin(id int, s stage.Stage) error {
	n, ok := t.nodes[id]
	if !ok {
		return &NodeNotFoundError{ID: id}
	}
	if err := checkAttachable(s); err != nil {
		return err
	}
	n.Stage = s
	n.Result = nil
	n.ResultShape = initialShape(s)
	t.markChanged()
	return nil
}

// RemoveNode removes a node and its whole subtree and returns the removed
// ids in ascending order. Removing the root empties the tree.
func (t *Tree) RemoveNode(id int) ([]int, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, &NodeNotFoundError{ID: id}
	}

	removed := t.subtree(id)
	sort.Ints(removed)

	if id == t.root {
		t.reset()
		return removed, nil
	}

	parent := t.nodes[n.Parent]
	for i, c := range parent.Children {
		if c == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}

	lastRemoved := false
	for _, r := range removed {
		if r == t.lastAdded {
			lastRemoved = true
		}
		delete(t.nodes, r)
	}
	if lastRemoved {
		t.lastAdded = n.Parent
	}
	t.markChanged()
	return removed, nil
}

// subtree returns id and all of its descendants in pre-order.
func (t *Tree) subtree(id int) []int {
	ids := []int{id}
	for _, c := range t.nodes[id].Children {
		ids = append(ids, t.subtree(c)...)
	}
	return ids
}

// SetNodeParameter assigns a parameter of a node's stage. Changing a
// parameter flagged as shape-affecting marks the tree changed.
func (t *Tree) SetNodeParameter(id int, key string, value any) error {
	n, ok := t.nodes[id]
	if !ok {
		return &NodeNotFoundError{ID: id}
	}
	if err := n.Stage.Params().Set(key, value); err != nil {
		return stage.Attribute(err, id, n.DisplayName())
	}
	if spec, _ := n.Stage.Params().Spec(key); spec.AffectsShape {
		n.ResultShape = initialShape(n.Stage)
		t.markChanged()
	}
	return nil
}

// SetKeepResults sets whether an inner node caches its result.
func (t *Tree) SetKeepResults(id int, keep bool) error {
	n, ok := t.nodes[id]
	if !ok {
		return &NodeNotFoundError{ID: id}
	}
	n.KeepResults = keep
	return nil
}

// ConsistencyCheck compares each node's declared input dimensionality with
// the declared output dimensionality of its parent and returns the ids of
// consistent and inconsistent nodes in ascending order. An unknown
// dimensionality on either side matches anything. The root must be an
// Input-kind stage and no other node may be one. Every child of a node is
// checked on its own.
func (t *Tree) ConsistencyCheck() (consistent, inconsistent []int) {
	for _, id := range t.ids() {
		if t.nodeConsistent(t.nodes[id]) {
			consistent = append(consistent, id)
		} else {
			inconsistent = append(inconsistent, id)
		}
	}
	t.validated = t.root != NoParent && len(inconsistent) == 0
	return consistent, inconsistent
}

func (t *Tree) nodeConsistent(n *Node) bool {
	desc := n.Stage.Descriptor()
	if n.Parent == NoParent {
		return desc.Kind == stage.KindInput
	}
	if desc.Kind == stage.KindInput {
		return false
	}
	parent := t.nodes[n.Parent].Stage.Descriptor()
	if parent.OutputDim == stage.UnknownDim || desc.InputDim == stage.UnknownDim {
		return true
	}
	return parent.OutputDim == desc.InputDim
}

// ids returns all node ids in ascending order.
func (t *Tree) ids() []int {
	ids := make([]int, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Nodes returns snapshots of all nodes in ascending id order.
func (t *Tree) Nodes() []Node {
	out := make([]Node, 0, len(t.nodes))
	for _, id := range t.ids() {
		out = append(out, t.nodes[id].snapshot())
	}
	return out
}

// Node returns a snapshot of one node.
func (t *Tree) Node(id int) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.snapshot(), true
}

// RootID returns the root id, false when the tree is empty.
func (t *Tree) RootID() (int, bool) {
	return t.root, t.root != NoParent
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Changed reports whether the tree changed since the last preparation.
func (t *Tree) Changed() bool {
	return t.changed
}

// State returns the lifecycle state of the tree.
func (t *Tree) State() State {
	switch {
	case t.root == NoParent:
		return StateEmpty
	case t.running:
		return StateRunning
	case t.preExecuted && !t.changed:
		return StatePrepared
	case t.validated:
		return StateValidated
	default:
		return StateBuilding
	}
}
