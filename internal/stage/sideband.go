package stage

import "context"

// GlobalIndexKey is the reserved sideband key carrying the scan-point index
// of the chain execution in progress.
const GlobalIndexKey = "global_index"

// TestModeKey is set in the sideband when the tree runs a chain only to
// resolve result shapes. Output stages should skip their side effects.
const TestModeKey = "test_mode"

// Sideband is the auxiliary context threaded through every Process call of
// one chain execution. It is shared by reference: mutations made by an
// upstream stage are visible to every downstream stage.
type Sideband map[string]any

// NewSideband returns a sideband carrying the given scan-point index.
func NewSideband(index int) Sideband {
	return Sideband{GlobalIndexKey: index}
}

// GlobalIndex returns the scan-point index, if present.
func (s Sideband) GlobalIndex() (int, bool) {
	v, ok := s[GlobalIndexKey]
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

// TestMode reports whether the chain runs for shape resolution only.
func (s Sideband) TestMode() bool {
	v, _ := s[TestModeKey].(bool)
	return v
}

// Flag returns a boolean entry, false when absent or not a bool.
func (s Sideband) Flag(key string) bool {
	v, _ := s[key].(bool)
	return v
}

type testModeKey struct{}

// WithTestMode marks ctx as a shape-resolution run. Prepare implementations
// of output stages use it to skip creating files or directories.
func WithTestMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, testModeKey{}, true)
}

// IsTestMode reports whether ctx was marked with WithTestMode.
func IsTestMode(ctx context.Context) bool {
	v, _ := ctx.Value(testModeKey{}).(bool)
	return v
}
