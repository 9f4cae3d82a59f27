package optimize

import "github.com/nmarchenko/ridgeline/internal/plan"

// edge is one join-graph edge between two base-table leaves, identified
// by the leaf's position in the flattened leaves slice and the joined
// column's position within that leaf's own output schema.
type edge struct {
	A, ColA int
	B, ColB int
}

// residualPred is a conjunct that could not become a join-graph edge,
// paired with the output schema of the join node it was collected from;
// its column indexes are only meaningful against that schema, and must be
// reindexed once the DP has settled on a (generally different) join order.
type residualPred struct {
	c      plan.Conjunct
	schema plan.OutputSchema
}

// flattenJoinRegion walks a maximal chain of Join/HashJoin nodes rooted at
// n, collecting the base-table leaves, the equi-join edges between them
// (from plain join predicates and, for an already-rewritten HashJoin, its
// per-side hash-key expressions), and every non-equi or non-partitioning
// conjunct as a residual filter to re-attach once the DP picks an order.
//
// Column identity is resolved by (table alias, column alias) lookup
// against each leaf's own output schema rather than positional
// arithmetic, so it is correct regardless of how deeply a predicate or a
// hash expression was nested when the rewriter built it.
func flattenJoinRegion(n *plan.Node) (leaves []*plan.Node, edges []edge, residual []residualPred) {
	if n.Kind != plan.KindJoin && n.Kind != plan.KindHashJoin {
		return []*plan.Node{n}, nil, nil
	}

	leftLeaves, leftEdges, leftResidual := flattenJoinRegion(n.Child0())
	rightLeaves, rightEdges, rightResidual := flattenJoinRegion(n.Child1())

	leaves = append(append([]*plan.Node{}, leftLeaves...), rightLeaves...)
	edges = append(append([]edge{}, leftEdges...), rightEdges...)
	residual = append(append([]residualPred{}, leftResidual...), rightResidual...)

	resolve := func(e *plan.Expr, schema plan.OutputSchema) (leafIdx, colIdx int, ok bool) {
		if e == nil || e.Kind != plan.ExprColumn || e.ColIndex < 0 || e.ColIndex >= len(schema) {
			return 0, 0, false
		}
		col := schema[e.ColIndex]
		for li, leaf := range leaves {
			if idx := leaf.OutputSchema.IndexOf(col.TableAlias, col.ColumnAlias); idx >= 0 {
				return li, idx, true
			}
		}
		return 0, 0, false
	}

	for _, c := range n.JoinPred {
		if c.IsEquiJoin() {
			if la, lc, ok1 := resolve(c.Cond.Left, n.OutputSchema); ok1 {
				if ra, rc, ok2 := resolve(c.Cond.Right, n.OutputSchema); ok2 && la != ra {
					edges = append(edges, edge{A: la, ColA: lc, B: ra, ColB: rc})
					continue
				}
			}
		}
		residual = append(residual, residualPred{c: c, schema: n.OutputSchema})
	}

	if n.Kind == plan.KindHashJoin {
		left, right := n.Child0(), n.Child1()
		for i := range n.LeftHashExprs {
			la, lc, ok1 := resolve(n.LeftHashExprs[i], left.OutputSchema)
			ra, rc, ok2 := resolve(n.RightHashExprs[i], right.OutputSchema)
			if ok1 && ok2 {
				edges = append(edges, edge{A: la, ColA: lc, B: ra, ColB: rc})
			}
		}
	}

	return leaves, edges, residual
}
