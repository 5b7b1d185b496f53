// Package identity resolves known-duplicate creator identifiers to one
// canonical id. The mapping is curated out-of-band and injected as
// configuration; nothing in the pipeline ever aggregates on a raw id once
// it has been resolved.
package identity

import "fmt"

// DefaultDuplicateCreators is the curated duplicate -> canonical table.
// These are creators whose events were recorded under a legacy numeric id
// before the snowflake migration.
var DefaultDuplicateCreators = map[string]string{
	"118":                "211855351476994048",
	"249":                "215689231985811456",
	"5041":               "219004183882633216",
	"201533631760826368": "201533631760826369",
}

// Normalizer maps raw creator ids to canonical ones. Lookups are O(1),
// total, and idempotent: a canonical id is never itself a table key.
type Normalizer struct {
	canonical map[string]string
}

// NewNormalizer builds a Normalizer from a duplicate -> canonical table.
// It rejects tables where a canonical id appears as a key, which would
// create resolution chains.
func NewNormalizer(table map[string]string) (*Normalizer, error) {
	canonical := make(map[string]string, len(table))
	for raw, canon := range table {
		if raw == canon {
			return nil, fmt.Errorf("identity: id %q maps to itself", raw)
		}
		canonical[raw] = canon
	}
	for _, canon := range canonical {
		if _, ok := canonical[canon]; ok {
			return nil, fmt.Errorf("identity: canonical id %q is itself a duplicate key", canon)
		}
	}
	return &Normalizer{canonical: canonical}, nil
}

// MustNewNormalizer is like NewNormalizer but panics on an invalid table.
// Intended for the static default table, which is validated by tests.
func MustNewNormalizer(table map[string]string) *Normalizer {
	n, err := NewNormalizer(table)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize returns the canonical id for raw, or raw unchanged when no
// mapping exists.
func (n *Normalizer) Normalize(raw string) string {
	if canon, ok := n.canonical[raw]; ok {
		return canon
	}
	return raw
}
