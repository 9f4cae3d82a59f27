// Package optimize implements the cost-based optimizer: join
// graph extraction from the rewritten plan, per-subset cardinality
// estimation against catalog statistics, and dynamic-programming join
// order enumeration over connected subgraphs.
package optimize

import "sort"

// Options carries the optimizer's two cost knobs, surfaced
// as the `[optimizer]` viper config section.
type Options struct {
	ScanCost     float64
	HashJoinCost float64
}

// DefaultOptions returns the stock cost constants.
func DefaultOptions() Options {
	return Options{ScanCost: 0.001, HashJoinCost: 0.01}
}

// HintSet is the test-only cardinality-override interface: a table-name-subset -> true cardinality map that
// replaces the DP's own estimate for that subset when present.
type HintSet map[string]float64

// Key canonicalizes a set of table names into a HintSet lookup key
// (order-independent).
func Key(names ...string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	key := ""
	for i, n := range sorted {
		if i > 0 {
			key += ","
		}
		key += n
	}
	return key
}
