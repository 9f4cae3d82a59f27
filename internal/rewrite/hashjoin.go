package rewrite

import "github.com/nmarchenko/ridgeline/internal/plan"

// convertToHashJoin implements ConvertToHashJoin: any Join
// with at least one equality conjunct whose two operands cleanly
// partition across the left and right subtrees becomes a HashJoin,
// collecting those equalities' operands as per-side hash-key expressions
// (left-side expressions form LeftHashExprs, right-side RightHashExprs).
// Non-equi conjuncts (and equi conjuncts that don't cleanly partition)
// stay on the join predicate as a residual filter.
func convertToHashJoin(n *plan.Node) (*plan.Node, bool) {
	if n.Kind != plan.KindJoin {
		return nil, false
	}
	left, right := n.Child0(), n.Child1()

	var leftExprs, rightExprs []*plan.Expr
	var residual []plan.Conjunct
	for _, c := range n.JoinPred {
		le, re, ok := splitEquiOperands(n, c, left, right)
		if !ok {
			residual = append(residual, c)
			continue
		}
		leftExprs = append(leftExprs, le)
		rightExprs = append(rightExprs, re)
	}
	if len(leftExprs) == 0 {
		return nil, false
	}

	hj := *n
	hj.Kind = plan.KindHashJoin
	hj.LeftHashExprs = leftExprs
	hj.RightHashExprs = rightExprs
	hj.JoinPred = residual
	return &hj, true
}

// splitEquiOperands recognizes an equality conjunct whose operands
// partition cleanly across left/right, and reindexes each operand against
// its own side's output schema (join predicates are expressed over the
// join node's combined schema; a hash join's build/probe key expressions
// must be evaluable against each side's row alone).
func splitEquiOperands(n *plan.Node, c plan.Conjunct, left, right *plan.Node) (*plan.Expr, *plan.Expr, bool) {
	if !c.IsEquiJoin() {
		return nil, nil, false
	}
	if left.TableBitset.IsSuperSet(c.LeftTables) && right.TableBitset.IsSuperSet(c.RightTables) {
		le := reindexExpr(c.Cond.Left, n.OutputSchema, left.OutputSchema)
		re := reindexExpr(c.Cond.Right, n.OutputSchema, right.OutputSchema)
		if le == nil || re == nil {
			return nil, nil, false
		}
		return le, re, true
	}
	if left.TableBitset.IsSuperSet(c.RightTables) && right.TableBitset.IsSuperSet(c.LeftTables) {
		le := reindexExpr(c.Cond.Right, n.OutputSchema, left.OutputSchema)
		re := reindexExpr(c.Cond.Left, n.OutputSchema, right.OutputSchema)
		if le == nil || re == nil {
			return nil, nil, false
		}
		return le, re, true
	}
	return nil, nil, false
}

// reindexExpr rewrites every column reference in e, which indexes into
// fromSchema, to the matching column's index in toSchema (by table
// alias + column alias). Returns nil if some referenced column isn't
// present in toSchema (the conjunct doesn't cleanly belong to that side).
func reindexExpr(e *plan.Expr, fromSchema, toSchema plan.OutputSchema) *plan.Expr {
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
		l := reindexExpr(e.Left, fromSchema, toSchema)
		r := reindexExpr(e.Right, fromSchema, toSchema)
		if l == nil || r == nil {
			return nil
		}
		return plan.Bin(e.Op, l, r)
	default:
		return e
	}
}
