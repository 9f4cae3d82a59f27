package rewrite

import "github.com/nmarchenko/ridgeline/internal/plan"

// deriveRangeScan implements the optional PK range-scan rule:
// an equality/range filter on a table's PK column, already pushed down
// onto a SeqScan's residual predicate, is recognized and the node is
// rewritten to RangeScan(table, [lo, hi]), consuming the conjuncts that
// fix the bound and leaving the rest as residual predicate.
func deriveRangeScan(n *plan.Node) (*plan.Node, bool) {
	if n.Kind != plan.KindSeqScan || len(n.Predicate) == 0 || n.PKColIndex < 0 {
		return nil, false
	}

	lo := plan.Bound{Unbounded: true}
	hi := plan.Bound{Unbounded: true}
	found := false
	var remaining []plan.Conjunct

	for _, c := range n.Predicate {
		lit, op, ok := pkComparison(c, n.PKColIndex)
		if !ok {
			remaining = append(remaining, c)
			continue
		}
		switch op {
		case plan.OpEq:
			lo = plan.Bound{Value: lit, Inclusive: true}
			hi = plan.Bound{Value: lit, Inclusive: true}
		case plan.OpLt:
			hi = tighterHi(hi, plan.Bound{Value: lit, Inclusive: false})
		case plan.OpLe:
			hi = tighterHi(hi, plan.Bound{Value: lit, Inclusive: true})
		case plan.OpGt:
			lo = tighterLo(lo, plan.Bound{Value: lit, Inclusive: false})
		case plan.OpGe:
			lo = tighterLo(lo, plan.Bound{Value: lit, Inclusive: true})
		default:
			remaining = append(remaining, c)
			continue
		}
		found = true
	}
	if !found {
		return nil, false
	}

	rs := *n
	rs.Kind = plan.KindRangeScan
	rs.RangeLo = lo
	rs.RangeHi = hi
	rs.Predicate = remaining
	return &rs, true
}

// pkComparison reports whether c is a comparison between the PK column
// (at pkCol in the scan's output schema) and a literal, normalizing the
// operator so the PK column is always treated as the left operand (e.g.
// `5 < pk` reports as `pk > 5`).
func pkComparison(c plan.Conjunct, pkCol int) (*plan.Expr, plan.BinOp, bool) {
	if !c.Cond.Op.IsComparison() {
		return nil, 0, false
	}
	if isPKColumn(c.Cond.Left, pkCol) && c.Cond.Right.Kind == plan.ExprLiteral {
		return c.Cond.Right, c.Cond.Op, true
	}
	if isPKColumn(c.Cond.Right, pkCol) && c.Cond.Left.Kind == plan.ExprLiteral {
		return c.Cond.Left, flipOp(c.Cond.Op), true
	}
	return nil, 0, false
}

func isPKColumn(e *plan.Expr, pkCol int) bool {
	return e != nil && e.Kind == plan.ExprColumn && e.ColIndex == pkCol
}

// flipOp reverses a comparison operator's operand order: `a op b` becomes
// `b flipOp(op) a`.
func flipOp(op plan.BinOp) plan.BinOp {
	switch op {
	case plan.OpLt:
		return plan.OpGt
	case plan.OpLe:
		return plan.OpGe
	case plan.OpGt:
		return plan.OpLt
	case plan.OpGe:
		return plan.OpLe
	default:
		return op
	}
}

// tighterHi keeps the smaller (more restrictive) of two upper bounds.
func tighterHi(a, b plan.Bound) plan.Bound {
	if a.Unbounded {
		return b
	}
	if b.Unbounded {
		return a
	}
	cmp := compareLiteral(a.Value.Literal, b.Value.Literal)
	if cmp < 0 {
		return a
	}
	if cmp > 0 {
		return b
	}
	if !a.Inclusive {
		return a
	}
	return b
}

// tighterLo keeps the larger (more restrictive) of two lower bounds.
func tighterLo(a, b plan.Bound) plan.Bound {
	if a.Unbounded {
		return b
	}
	if b.Unbounded {
		return a
	}
	cmp := compareLiteral(a.Value.Literal, b.Value.Literal)
	if cmp > 0 {
		return a
	}
	if cmp < 0 {
		return b
	}
	if !a.Inclusive {
		return a
	}
	return b
}

// compareLiteral orders two literal values of the same scalar family
//, used only to pick the
// tighter of two candidate range-scan bounds.
func compareLiteral(a, b any) int {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
