package tree

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nao1215/reductree/internal/stage"
)

// NodeRecord is the serialized form of one node. Cached results are never
// serialized.
type NodeRecord struct {
	NodeID      int          `yaml:"node_id" json:"node_id"`
	ParentID    *int         `yaml:"parent_id" json:"parent_id"`
	Stage       string       `yaml:"stage_implementation_name" json:"stage_implementation_name"`
	Parameters  []stage.Pair `yaml:"stage_parameters" json:"stage_parameters"`
	KeepResults bool         `yaml:"keep_results,omitempty" json:"keep_results,omitempty"`
}

// ExportToListOfNodes returns one record per node, parents before children.
func (t *Tree) ExportToListOfNodes() []NodeRecord {
	if t.root == NoParent {
		return []NodeRecord{}
	}
	records := make([]NodeRecord, 0, len(t.nodes))
	for _, id := range t.subtree(t.root) {
		n := t.nodes[id]
		rec := NodeRecord{
			NodeID:      id,
			Stage:       n.Stage.Descriptor().ImplementationName,
			Parameters:  n.Stage.Params().Export(),
			KeepResults: n.KeepResults,
		}
		if n.Parent != NoParent {
			parent := n.Parent
			rec.ParentID = &parent
		}
		records = append(records, rec)
	}
	return records
}

// RestoreFromListOfNodes replaces the tree with the one described by
// records.
//
// The first pass instantiates every stage through the resolver and applies
// the recorded parameters; the second pass wires parent links in record
// order. The root is the record with node id 0; without one the tree
// becomes empty. Either the whole restore succeeds or the current tree is
// left untouched.
func (t *Tree) RestoreFromListOfNodes(records []NodeRecord) error {
	if t.resolver == nil {
		return errors.New("tree has no stage resolver")
	}

	nodes := make(map[int]*Node, len(records))
	for _, rec := range records {
		if rec.NodeID < 0 {
			return &StructuralError{NodeID: rec.NodeID, Reason: "node ids must not be negative"}
		}
		if _, dup := nodes[rec.NodeID]; dup {
			return &StructuralError{NodeID: rec.NodeID, Reason: "duplicate node id"}
		}
		s, err := t.resolver.Instantiate(rec.Stage)
		if err != nil {
			return fmt.Errorf("restore node %d: %w", rec.NodeID, err)
		}
		if err := checkAttachable(s); err != nil {
			return fmt.Errorf("restore node %d: %w", rec.NodeID, err)
		}
		for _, p := range rec.Parameters {
			if err := s.Params().Set(p.Key, p.Value); err != nil {
				return stage.Attribute(err, rec.NodeID, s.Descriptor().DisplayName)
			}
		}
		nodes[rec.NodeID] = &Node{
			ID:          rec.NodeID,
			Parent:      NoParent,
			Stage:       s,
			KeepResults: rec.KeepResults,
			ResultShape: initialShape(s),
		}
	}

	for _, rec := range records {
		if rec.ParentID == nil {
			continue
		}
		if _, ok := nodes[*rec.ParentID]; !ok {
			return &StructuralError{NodeID: rec.NodeID, Reason: fmt.Sprintf("parent %d does not exist", *rec.ParentID)}
		}
	}

	if _, ok := nodes[0]; !ok {
		t.logger.Debug("Restored node list has no root, tree is empty.", "records", len(records))
		t.reset()
		return nil
	}

	for _, rec := range records {
		n := nodes[rec.NodeID]
		if rec.NodeID == 0 {
			if rec.ParentID != nil {
				return &StructuralError{NodeID: 0, Reason: "root must not have a parent"}
			}
			continue
		}
		if rec.ParentID == nil {
			return &StructuralError{NodeID: rec.NodeID, Reason: "second node without a parent"}
		}
		parent := nodes[*rec.ParentID]
		n.Parent = parent.ID
		parent.Children = append(parent.Children, n.ID)
	}

	reached := make(map[int]bool, len(nodes))
	var walk func(id int)
	walk = func(id int) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, c := range nodes[id].Children {
			walk(c)
		}
	}
	walk(0)
	for _, rec := range records {
		if !reached[rec.NodeID] {
			return &StructuralError{NodeID: rec.NodeID, Reason: "node is not reachable from root"}
		}
	}

	t.reset()
	t.nodes = nodes
	t.root = 0
	for id := range nodes {
		if id >= t.nextID {
			t.nextID = id + 1
		}
	}
	t.lastAdded = records[len(records)-1].NodeID
	t.logger.Debug("Restored tree.", "nodes", len(nodes))
	return nil
}

// Copy returns an independent tree with the same ids, links, stages and
// parameters. Every stage is instantiated afresh through the resolver.
// Cached results and preparation state are not copied.
func (t *Tree) Copy() (*Tree, error) {
	if t.resolver == nil {
		return nil, errors.New("tree has no stage resolver")
	}
	c := New(t.resolver, WithLogger(t.logger))
	for id, n := range t.nodes {
		desc := n.Stage.Descriptor()
		s, err := t.resolver.Instantiate(desc.ImplementationName)
		if err != nil {
			return nil, fmt.Errorf("copy node %d: %w", id, err)
		}
		for _, key := range n.Stage.Params().Keys() {
			v, _ := n.Stage.Params().Value(key)
			if err := s.Params().SetValue(key, v); err != nil {
				return nil, stage.Attribute(err, id, desc.DisplayName)
			}
		}
		c.nodes[id] = &Node{
			ID:          id,
			Parent:      n.Parent,
			Children:    slices.Clone(n.Children),
			Stage:       s,
			KeepResults: n.KeepResults,
			ResultShape: initialShape(s),
		}
	}
	c.root = t.root
	c.nextID = t.nextID
	c.lastAdded = t.lastAdded
	return c, nil
}
