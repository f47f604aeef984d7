package stage

import (
	"errors"
	"fmt"
)

// NoNode is used for errors that are not attributed to a tree node yet.
const NoNode = -1

var (
	// ErrUserConfig matches every *UserConfigError via errors.Is.
	ErrUserConfig = errors.New("user configuration error")

	// ErrAbstract is returned when a Base-kind class is instantiated or
	// attached to a tree.
	ErrAbstract = errors.New("stage class is abstract (kind base)")
)

// UserConfigError reports a problem the operator can fix by changing the
// configuration of a stage or tree. It is recoverable at the run level:
// the scan point fails but the run may continue.
type UserConfigError struct {
	// NodeID is the tree node that raised the error, or NoNode.
	NodeID int

	// DisplayName is the display name of the stage that raised the error.
	DisplayName string

	// Err is the underlying cause.
	Err error
}

// NewUserConfigError creates an unattributed UserConfigError.
func NewUserConfigError(format string, args ...any) *UserConfigError {
	return &UserConfigError{
		NodeID: NoNode,
		Err:    fmt.Errorf(format, args...),
	}
}

// Error implements error.
func (e *UserConfigError) Error() string {
	switch {
	case e.NodeID != NoNode && e.DisplayName != "":
		return fmt.Sprintf("node %d (%s): %v", e.NodeID, e.DisplayName, e.Err)
	case e.NodeID != NoNode:
		return fmt.Sprintf("node %d: %v", e.NodeID, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap returns the underlying cause.
func (e *UserConfigError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUserConfig) true for every UserConfigError.
func (e *UserConfigError) Is(target error) bool {
	return target == ErrUserConfig
}

// NodeError attributes an unexpected (fatal) stage error to the node that
// raised it. It never matches ErrUserConfig unless the wrapped error does.
type NodeError struct {
	NodeID      int
	DisplayName string
	Err         error
}

// Error implements error.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %d (%s): %v", e.NodeID, e.DisplayName, e.Err)
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// Attribute tags err with the node that raised it. UserConfigErrors keep
// their type and get the node id and display name filled in; any other
// error is wrapped in a *NodeError. An error that already carries a node id
// is returned unchanged so the innermost attribution wins.
func Attribute(err error, nodeID int, displayName string) error {
	if err == nil {
		return nil
	}
	var uce *UserConfigError
	if errors.As(err, &uce) {
		if uce.NodeID != NoNode {
			return err
		}
		return &UserConfigError{NodeID: nodeID, DisplayName: displayName, Err: uce.Err}
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return err
	}
	return &NodeError{NodeID: nodeID, DisplayName: displayName, Err: err}
}

// FailedNode returns the node id an error is attributed to.
func FailedNode(err error) (int, bool) {
	var uce *UserConfigError
	if errors.As(err, &uce) && uce.NodeID != NoNode {
		return uce.NodeID, true
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.NodeID, true
	}
	return NoNode, false
}
