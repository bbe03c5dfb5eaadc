// Package grouping derives stable group hashes and labels from business
// dimension maps such as book/region.
package grouping

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// DefaultGroup is the hash and label used when no dimensions are supplied.
const DefaultGroup = "default"

// Keyer turns a dimension map into a stable hash and a display label.
// The zero value is ready to use.
type Keyer struct{}

func NewKeyer() *Keyer {
	return &Keyer{}
}

// Hash returns the first 8 bytes, hex encoded, of the SHA-256 of the
// key-sorted JSON serialization of the dimensions. Identical maps always
// produce identical hashes regardless of insertion order.
func (k *Keyer) Hash(group map[string]string) string {
	if len(group) == 0 {
		return DefaultGroup
	}

	serialized, err := json.Marshal(sortedPairs(group))
	if err != nil {
		return DefaultGroup
	}

	sum := sha256.Sum256(serialized)

	return hex.EncodeToString(sum[:8])
}

// Label renders the dimensions as "book=MACRO / region=EMEA", sorted by key.
func (k *Keyer) Label(group map[string]string) string {
	if len(group) == 0 {
		return DefaultGroup
	}

	pairs := make([]string, 0, len(group))
	for _, pair := range sortedPairs(group) {
		pairs = append(pairs, pair[0]+"="+pair[1])
	}

	return strings.Join(pairs, " / ")
}

func sortedPairs(group map[string]string) [][2]string {
	pairs := make([][2]string, 0, len(group))
	for key, value := range group {
		pairs = append(pairs, [2]string{key, value})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	return pairs
}
