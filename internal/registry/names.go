package registry

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// displayKey is the collision and lookup key for display names:
// NFC-normalized, trimmed and case-folded, so "CSV Loader" and "csv loader"
// address the same class.
func displayKey(displayName string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(displayName)))
}
