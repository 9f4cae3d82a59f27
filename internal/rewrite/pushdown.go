package rewrite

import "github.com/nmarchenko/ridgeline/internal/plan"

// pushDownFilter implements the PushDownFilter rule: a Filter
// above {Project, Aggregate, OrderBy, Distinct, SeqScan, RangeScan, Join,
// HashJoin, Filter} is pushed one level down, in the shape appropriate to
// the child kind.
func pushDownFilter(n *plan.Node) (*plan.Node, bool) {
	if n.Kind != plan.KindFilter {
		return nil, false
	}
	child := n.Child0()
	if child == nil || len(n.FilterPred) == 0 {
		return nil, false
	}

	switch child.Kind {
	case plan.KindOrderBy, plan.KindDistinct:
		// order/dedup commutes with conjunctive selection: swap the two nodes.
		inner := child.Child0()
		pushed := &plan.Node{
			Kind:         plan.KindFilter,
			OutputSchema: inner.OutputSchema,
			TableBitset:  inner.TableBitset.Clone(),
			Children:     [2]*plan.Node{inner, nil},
			NumChildren:  1,
			FilterPred:   n.FilterPred,
		}
		outer := *child
		outer.Children[0] = pushed
		outer.OutputSchema = child.OutputSchema
		outer.TableBitset = child.TableBitset
		return &outer, true

	case plan.KindFilter:
		child.FilterPred = append(child.FilterPred, n.FilterPred...)
		return child, true

	case plan.KindProject:
		substituted := substituteAll(n.FilterPred, child.ProjectExprs)
		grandchild := child.Child0()
		pushed := &plan.Node{
			Kind:         plan.KindFilter,
			OutputSchema: grandchild.OutputSchema,
			TableBitset:  grandchild.TableBitset.Clone(),
			Children:     [2]*plan.Node{grandchild, nil},
			NumChildren:  1,
			FilterPred:   substituted,
		}
		outer := *child
		outer.Children[0] = pushed
		return &outer, true

	case plan.KindAggregate:
		child.HavingPred = append(child.HavingPred, n.FilterPred...)
		return child, true

	case plan.KindSeqScan, plan.KindRangeScan:
		child.Predicate = append(child.Predicate, n.FilterPred...)
		return child, true

	case plan.KindJoin, plan.KindHashJoin:
		child.JoinPred = append(child.JoinPred, n.FilterPred...)
		return child, true
	}
	return nil, false
}

// substituteAll rewrites every conjunct's operands, replacing each
// ExprColumn(i) with projectExprs[i], substituting the projection's
// expressions into the predicate operands.
func substituteAll(preds []plan.Conjunct, projectExprs []*plan.Expr) []plan.Conjunct {
	out := make([]plan.Conjunct, len(preds))
	for i, c := range preds {
		out[i] = plan.Conjunct{
			Cond: plan.BinaryConditionExpr{
				Op:    c.Cond.Op,
				Left:  substitute(c.Cond.Left, projectExprs),
				Right: substitute(c.Cond.Right, projectExprs),
			},
			LeftTables:  c.LeftTables,
			RightTables: c.RightTables,
		}
	}
	return out
}

func substitute(e *plan.Expr, projectExprs []*plan.Expr) *plan.Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case plan.ExprColumn:
		if e.ColIndex >= 0 && e.ColIndex < len(projectExprs) {
			return projectExprs[e.ColIndex]
		}
		return e
	case plan.ExprBinary:
		return plan.Bin(e.Op, substitute(e.Left, projectExprs), substitute(e.Right, projectExprs))
	default:
		return e
	}
}

// pushDownJoinPredicate implements PushDownJoinPredicate: a
// join predicate whose operands both reference only one side's tables is
// lifted into a Filter on that side, to be re-pushed by pushDownFilter on
// a later fixpoint pass.
func pushDownJoinPredicate(n *plan.Node) (*plan.Node, bool) {
	if n.Kind != plan.KindJoin && n.Kind != plan.KindHashJoin {
		return nil, false
	}
	left, right := n.Child0(), n.Child1()
	for i, c := range n.JoinPred {
		all := c.AllTables()
		var side int = -1
		if left.TableBitset.IsSuperSet(all) {
			side = 0
		} else if right.TableBitset.IsSuperSet(all) {
			side = 1
		}
		if side < 0 {
			continue
		}
		target := left
		if side == 1 {
			target = right
		}
		// Reindex the conjunct's operands from the join's combined schema to
		// the target side's own schema before it is evaluated against that
		// side's rows alone.
		lexpr := reindexExpr(c.Cond.Left, n.OutputSchema, target.OutputSchema)
		rexpr := reindexExpr(c.Cond.Right, n.OutputSchema, target.OutputSchema)
		if lexpr == nil || rexpr == nil {
			continue
		}
		pushedConjunct := plan.Conjunct{
			Cond:        plan.BinaryConditionExpr{Op: c.Cond.Op, Left: lexpr, Right: rexpr},
			LeftTables:  c.LeftTables,
			RightTables: c.RightTables,
		}
		pushed := &plan.Node{
			Kind:         plan.KindFilter,
			OutputSchema: target.OutputSchema,
			TableBitset:  target.TableBitset.Clone(),
			Children:     [2]*plan.Node{target, nil},
			NumChildren:  1,
			FilterPred:   []plan.Conjunct{pushedConjunct},
		}
		n.Children[side] = pushed
		n.JoinPred = append(append([]plan.Conjunct{}, n.JoinPred[:i]...), n.JoinPred[i+1:]...)
		return n, true
	}
	return nil, false
}
