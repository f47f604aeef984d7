package tree

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
	"gopkg.in/yaml.v3"
)

// Digest returns the SHA3-256 fingerprint of the canonical YAML form of
// records. Trees exporting equal records have equal digests.
func Digest(records []NodeRecord) (string, error) {
	if records == nil {
		records = []NodeRecord{}
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal tree: %w", err)
	}
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
