package optimize

import (
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/stats"
)

// dpEntry is one DP table cell: the best plan found for a subset of
// leaves, its estimated cardinality/cost, the per-leaf NDV maps carried
// forward unchanged from the single-table estimates (NDV is never
// recomputed for a composite), and the column offset each leaf starts at
// within this cell's own OutputSchema (needed to translate an edge's
// leaf-local column index into this composite's schema).
type dpEntry struct {
	plan    *plan.Node
	card    float64
	cost    float64
	ndv     map[int]map[int]float64 // leaf index -> (leaf-local col -> ndv)
	offsets map[int]int             // leaf index -> starting column offset in plan.OutputSchema
}

// Optimize walks root, leaving every node untouched except maximal
// Join/HashJoin regions, which it replaces with the DP-chosen join
// order. Non-join children of a join region (e.g. a Filter sitting
// below an Aggregate that itself sits above a join) are optimized
// recursively so nested join regions anywhere in the tree are picked up.
func Optimize(root *plan.Node, sm *stats.Manager, opts Options, hints HintSet) *plan.Node {
	if root == nil {
		return nil
	}
	if root.Kind == plan.KindJoin || root.Kind == plan.KindHashJoin {
		leaves, edges, residual := flattenJoinRegion(root)
		for i, leaf := range leaves {
			leaves[i] = Optimize(leaf, sm, opts, hints)
		}
		best := enumerate(leaves, edges, sm, opts, hints)
		return reattachFilters(best.plan, residual)
	}

	out := *root
	for i := 0; i < root.NumChildren; i++ {
		out.Children[i] = Optimize(root.Children[i], sm, opts, hints)
	}
	return &out
}

// enumerate runs the classic subset-DP join-order search: every singleton leaf seeds the
// table, then every composite subset is built as the cheapest
// combination of two disjoint already-computed sub-subsets connected by
// at least one join-graph edge (falling back to the cheapest cross
// product only when no split of the subset has an edge between its
// halves, e.g. disconnected graphs).
func enumerate(leaves []*plan.Node, edges []edge, sm *stats.Manager, opts Options, hints HintSet) *dpEntry {
	n := len(leaves)
	dp := make(map[uint64]*dpEntry, 1<<uint(n))

	for i, leaf := range leaves {
		summary := estimateTable(leaf, sm)
		mask := uint64(1) << uint(i)
		card := summary.Card
		if h, ok := hints[Key(tableNames(leaves, mask)...)]; ok {
			card = h
		}
		ndv := map[int]map[int]float64{i: summary.NDV}
		cp := withEstimate(leaf, card, card*opts.ScanCost)
		dp[mask] = &dpEntry{
			plan:    cp,
			card:    card,
			cost:    card * opts.ScanCost,
			ndv:     ndv,
			offsets: map[int]int{i: 0},
		}
	}

	full := uint64(1)<<uint(n) - 1
	for mask := uint64(1); mask <= full; mask++ {
		if dp[mask] != nil || bitsSet(mask) < 2 {
			continue
		}
		var best *dpEntry
		bestConnected := false
		for sub := (mask - 1) & mask; sub > 0; sub = (sub - 1) & mask {
			comp := mask &^ sub
			if comp == 0 || sub > comp {
				continue // visit each unordered split once
			}
			L, R := dp[sub], dp[comp]
			if L == nil || R == nil {
				continue
			}
			cand := joinCandidate(L, R, edges, opts, mask, hints, leaves)
			connected := cand.plan.Kind == plan.KindHashJoin
			if best == nil || (connected && !bestConnected) ||
				(connected == bestConnected && cand.cost < best.cost) {
				best, bestConnected = cand, connected
			}
		}
		dp[mask] = best
	}
	return dp[full]
}

// joinCandidate builds the plan for joining L and R: a HashJoin when an
// edge connects them (the smaller estimated side becomes the build
// side), otherwise a cross-product Join.
func joinCandidate(L, R *dpEntry, edges []edge, opts Options, mask uint64, hints HintSet, leaves []*plan.Node) *dpEntry {
	build, probe := L, R
	if probe.card < build.card {
		build, probe = probe, build
	}

	var leftExprs, rightExprs []*plan.Expr
	var joinNDV float64 = 1
	for _, e := range edges {
		inBuild := inEntry(build, e.A) && inEntry(probe, e.B)
		inProbe := inEntry(build, e.B) && inEntry(probe, e.A)
		if !inBuild && !inProbe {
			continue
		}
		aLeaf, aCol, bLeaf, bCol := e.A, e.ColA, e.B, e.ColB
		if inProbe {
			aLeaf, aCol, bLeaf, bCol = e.B, e.ColB, e.A, e.ColA
		}
		leftExprs = append(leftExprs, plan.Col(build.offsets[aLeaf]+aCol))
		rightExprs = append(rightExprs, plan.Col(probe.offsets[bLeaf]+bCol))
		if v, ok := build.ndv[aLeaf][aCol]; ok && v > joinNDV {
			joinNDV = v
		}
		if v, ok := probe.ndv[bLeaf][bCol]; ok && v > joinNDV {
			joinNDV = v
		}
	}

	var node *plan.Node
	var card, cost float64
	schema := append(append(plan.OutputSchema{}, build.plan.OutputSchema...), probe.plan.OutputSchema...)
	if len(leftExprs) > 0 {
		card = (build.card * probe.card) / joinNDV
		if h, ok := hints[Key(tableNames(leaves, mask)...)]; ok {
			card = h
		}
		cost = build.cost + probe.cost + (build.card+probe.card)*opts.HashJoinCost + card*opts.ScanCost
		node = plan.NewBinary(plan.KindHashJoin, build.plan, probe.plan)
		node.LeftHashExprs = leftExprs
		node.RightHashExprs = rightExprs
	} else {
		card = build.card * probe.card
		if h, ok := hints[Key(tableNames(leaves, mask)...)]; ok {
			card = h
		}
		cost = build.cost + probe.cost + build.card*probe.card*opts.ScanCost
		node = plan.NewBinary(plan.KindJoin, build.plan, probe.plan)
	}
	node.OutputSchema = schema
	node.EstCard = card
	node.EstCost = cost

	ndv := mergeNDV(build.ndv, probe.ndv)
	offsets := mergeOffsets(build, probe)
	return &dpEntry{plan: node, card: card, cost: cost, ndv: ndv, offsets: offsets}
}

func inEntry(e *dpEntry, leaf int) bool {
	_, ok := e.offsets[leaf]
	return ok
}

func mergeNDV(a, b map[int]map[int]float64) map[int]map[int]float64 {
	out := make(map[int]map[int]float64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func mergeOffsets(build, probe *dpEntry) map[int]int {
	out := make(map[int]int, len(build.offsets)+len(probe.offsets))
	for k, v := range build.offsets {
		out[k] = v
	}
	shift := len(build.plan.OutputSchema)
	for k, v := range probe.offsets {
		out[k] = v + shift
	}
	return out
}

func bitsSet(mask uint64) int {
	count := 0
	for mask != 0 {
		mask &= mask - 1
		count++
	}
	return count
}

func tableNames(leaves []*plan.Node, mask uint64) []string {
	var out []string
	for i, leaf := range leaves {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, leaf.TableName)
		}
	}
	return out
}

func withEstimate(n *plan.Node, card, cost float64) *plan.Node {
	out := *n
	out.EstCard = card
	out.EstCost = cost
	return &out
}

// reattachFilters wraps plan in a residual Filter node if any conjuncts
// were left unassigned to a join edge or a leaf's own predicate
// (conjuncts spanning more than two tables, or referencing an
// expression shape the rewriter and optimizer don't specialize). Each
// conjunct's column references are reindexed from the schema of the join
// node it was collected at to the DP-chosen plan's own output schema.
func reattachFilters(p *plan.Node, residual []residualPred) *plan.Node {
	if len(residual) == 0 {
		return p
	}
	preds := make([]plan.Conjunct, 0, len(residual))
	for _, r := range residual {
		l := reindexToSchema(r.c.Cond.Left, r.schema, p.OutputSchema)
		rt := reindexToSchema(r.c.Cond.Right, r.schema, p.OutputSchema)
		if l == nil || rt == nil {
			preds = append(preds, r.c) // column set unchanged; keep as collected
			continue
		}
		preds = append(preds, plan.Conjunct{
			Cond:        plan.BinaryConditionExpr{Op: r.c.Cond.Op, Left: l, Right: rt},
			LeftTables:  r.c.LeftTables,
			RightTables: r.c.RightTables,
		})
	}
	f := plan.NewUnary(plan.KindFilter, p)
	f.OutputSchema = p.OutputSchema
	f.FilterPred = preds
	return f
}

// reindexToSchema rewrites every column reference in e from fromSchema
// positions to the matching (table alias, column alias) position in
// toSchema, or nil if some column has no match there.
func reindexToSchema(e *plan.Expr, fromSchema, toSchema plan.OutputSchema) *plan.Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case plan.ExprColumn:
		if e.ColIndex < 0 || e.ColIndex >= len(fromSchema) {
			return nil
		}
		col := fromSchema[e.ColIndex]
		idx := toSchema.IndexOf(col.TableAlias, col.ColumnAlias)
		if idx < 0 {
			return nil
		}
		return plan.Col(idx)
	case plan.ExprBinary:
		l := reindexToSchema(e.Left, fromSchema, toSchema)
		r := reindexToSchema(e.Right, fromSchema, toSchema)
		if l == nil || r == nil {
			return nil
		}
		return plan.Bin(e.Op, l, r)
	default:
		return e
	}
}
