// Package rewrite implements the logical rewriter: a set of
// rules applied bottom-up to fixpoint over the plan.Node tree built by
// sql/planner, before the cost-based optimizer enumerates join orders.
package rewrite

import "github.com/nmarchenko/ridgeline/internal/plan"

// Rewrite applies every rule to fixpoint, bottom-up, and returns the
// rewritten tree.
func Rewrite(root *plan.Node) *plan.Node {
	for {
		next, changed := rewriteOnce(root)
		root = next
		if !changed {
			return root
		}
	}
}

// rewriteOnce recurses into children first (bottom-up), then applies each
// rule at the current node in turn, reporting whether anything changed.
func rewriteOnce(n *plan.Node) (*plan.Node, bool) {
	if n == nil {
		return nil, false
	}
	changed := false
	for i := 0; i < n.NumChildren; i++ {
		newChild, childChanged := rewriteOnce(n.Children[i])
		if childChanged {
			n.Children[i] = newChild
			changed = true
		}
	}

	for {
		newNode, ok := applyRules(n)
		if !ok {
			break
		}
		n = newNode
		changed = true
	}
	return n, changed
}

// applyRules tries each rule once at n, returning the first rewrite that
// fires; rewriteOnce's caller loops this until no rule fires.
func applyRules(n *plan.Node) (*plan.Node, bool) {
	if newN, ok := pushDownFilter(n); ok {
		return newN, true
	}
	if newN, ok := pushDownJoinPredicate(n); ok {
		return newN, true
	}
	if newN, ok := convertToHashJoin(n); ok {
		return newN, true
	}
	if newN, ok := deriveRangeScan(n); ok {
		return newN, true
	}
	return n, false
}
