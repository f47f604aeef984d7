package stage

import (
	"fmt"
	"strings"
)

// Kind is the taxonomy tag that governs where a stage may sit in a tree.
type Kind int

const (
	// KindBase marks an abstract template. Base stages are registered so
	// they can be listed and documented but are never attached to a tree.
	KindBase Kind = iota
	// KindInput stages produce the payload for a scan point and sit at the root.
	KindInput
	// KindProcessing stages transform their parent's output.
	KindProcessing
	// KindOutput stages are side-effecting sinks.
	KindOutput
)

// String returns the manifest spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindInput:
		return "input"
	case KindProcessing:
		return "processing"
	case KindOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Runnable reports whether stages of this kind may be attached to a tree.
func (k Kind) Runnable() bool {
	return k == KindInput || k == KindProcessing || k == KindOutput
}

// ParseKind converts a manifest kind string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return KindBase, nil
	case "input":
		return KindInput, nil
	case "processing":
		return KindProcessing, nil
	case "output":
		return KindOutput, nil
	default:
		return KindBase, fmt.Errorf("unknown stage kind %q", s)
	}
}
