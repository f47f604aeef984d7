package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrForcedStop is returned when in-flight scan points did not finish
	// within the grace period after the run was cancelled.
	ErrForcedStop = errors.New("run stopped forcibly after grace period")

	// ErrCancelled is returned when the run was cancelled and every
	// in-flight scan point finished in time.
	ErrCancelled = errors.New("run cancelled")

	// ErrNoPoints is returned when a run is started without scan points.
	ErrNoPoints = errors.New("run has no scan points")
)

// InconsistentTreeError is returned when the tree fails its consistency
// check before the run starts.
type InconsistentTreeError struct {
	Nodes []int
}

// Error implements error.
func (e *InconsistentTreeError) Error() string {
	return fmt.Sprintf("tree is inconsistent at nodes %v", e.Nodes)
}
