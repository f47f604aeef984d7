package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound matches every *NodeNotFoundError via errors.Is.
	ErrNodeNotFound = errors.New("node not found")

	// ErrStructural matches every *StructuralError via errors.Is.
	ErrStructural = errors.New("structural error")

	// ErrNotList is returned when a serialized tree document is not a list
	// of node records.
	ErrNotList = errors.New("tree document is not a list of node records")

	// ErrNilStage is returned when a nil stage is attached to the tree.
	ErrNilStage = errors.New("stage is nil")

	// ErrUnknownFormat is returned for tree files with an unsupported
	// extension.
	ErrUnknownFormat = errors.New("unknown tree file format")
)

// NodeNotFoundError is returned when an operation names a node id that is
// not part of the tree.
type NodeNotFoundError struct {
	ID int
}

// Error implements error.
func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %d does not exist", e.ID)
}

// Is makes errors.Is(err, ErrNodeNotFound) true.
func (e *NodeNotFoundError) Is(target error) bool {
	return target == ErrNodeNotFound
}

// StructuralError reports a corrupt node list: an orphaned parent
// reference, a duplicate id or a node that cannot be reached from root.
// A restore failing with it leaves the installed tree untouched.
type StructuralError struct {
	NodeID int
	Reason string
}

// Error implements error.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("corrupt tree at node %d: %s", e.NodeID, e.Reason)
}

// Is makes errors.Is(err, ErrStructural) true.
func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}
