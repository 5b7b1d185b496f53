// Package reshape flattens the analytics provider's nested, pivot-shaped
// JSON into normalized engagement and funnel records. One generic walker
// handles every metric tree; the per-metric shape lives in the dimension
// lists the reshapers pass in.
package reshape

import (
	"strconv"
	"strings"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
)

// Aggregate sentinel keys. The provider emits these for "total across this
// dimension"; they are never real dimension values.
const (
	sentinelOverall = "$overall"
	sentinelAll     = "all"
)

func isSentinel(key string) bool {
	return key == sentinelOverall || key == sentinelAll
}

// Dimension describes one level of a metric tree.
type Dimension struct {
	Name string

	// Identifier marks levels whose keys are real entity identifiers
	// (creator ids, tickers). Single-character keys at these levels are
	// malformed upstream data and the branch is skipped.
	Identifier bool
}

// Walker enumerates (compound key, count) pairs out of a raw metric tree
// with a single depth-first pass. It is not restartable; construct one per
// tree walk when skip counts matter.
type Walker struct {
	logger logging.Logger

	// SkippedBranches counts branches dropped for malformed keys or
	// uncountable leaves.
	SkippedBranches int
}

// NewWalker creates a walker that logs skipped branches at warning level
func NewWalker(logger logging.Logger) *Walker {
	return &Walker{logger: logger}
}

// Walk traverses tree depth-first and calls visit once per enumerated
// (compound key, count) pair. The same compound key may be visited more
// than once; callers accumulate by key and sum.
func (w *Walker) Walk(tree map[string]any, dims []Dimension, visit func(key []string, count int64)) {
	w.walk(tree, dims, nil, visit)
}

func (w *Walker) walk(node any, dims []Dimension, path []string, visit func(key []string, count int64)) {
	if len(dims) == 0 {
		count, ok := leafCount(node)
		if !ok {
			w.skip(path, "uncountable leaf value")
			return
		}
		visit(path, count)
		return
	}

	obj, ok := node.(map[string]any)
	if !ok {
		// Deeper levels are absent; the value here is the sole count
		// source for the partial key built so far.
		count, countable := leafCount(node)
		if !countable {
			w.skip(path, "expected nested object")
			return
		}
		visit(path, count)
		return
	}

	for key, child := range obj {
		if isSentinel(key) {
			// A lone sentinel wraps the real children one level deeper;
			// a sentinel with siblings is a redundant total and the
			// sibling branches carry the detail.
			if len(obj) == 1 {
				w.walk(child, dims, path, visit)
			}
			continue
		}

		if !validKey(key, dims[0]) {
			w.skip(append(path, key), "invalid "+dims[0].Name+" key")
			continue
		}

		childPath := append(path[:len(path):len(path)], key)
		w.walk(child, dims[1:], childPath, visit)
	}
}

func (w *Walker) skip(path []string, reason string) {
	w.SkippedBranches++
	if w.logger != nil {
		w.logger.WithFields(logging.Fields{
			"path":   strings.Join(path, "."),
			"reason": reason,
		}).Warn("Skipping malformed metric tree branch")
	}
}

// validKey rejects the junk the provider is known to emit: literal
// "undefined", empty strings, and single-character identifiers.
func validKey(key string, dim Dimension) bool {
	if key == "" || key == "undefined" {
		return false
	}
	if dim.Identifier && len(key) < 2 {
		return false
	}
	return true
}

// leafCount extracts the count at the end of a branch. A sentinel total
// takes precedence over deeper per-leaf values so a tree carrying both is
// not double counted; a map without a sentinel is summed defensively.
func leafCount(node any) (int64, bool) {
	switch v := node.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(parsed), true
		}
		return 0, false
	case map[string]any:
		if inner, ok := v[sentinelAll]; ok {
			return leafCount(inner)
		}
		if inner, ok := v[sentinelOverall]; ok {
			return leafCount(inner)
		}
		var sum int64
		counted := false
		for _, inner := range v {
			if c, ok := leafCount(inner); ok {
				sum += c
				counted = true
			}
		}
		return sum, counted
	default:
		return 0, false
	}
}
