package exec

import (
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/plan"
)

// evalExpr evaluates e against row. Numeric promotion: int32 -> int64 on
// mixed integer operations; any float/int mix promotes through float64.
func evalExpr(e *plan.Expr, row Row) (any, error) {
	switch e.Kind {
	case plan.ExprColumn:
		if e.ColIndex < 0 || e.ColIndex >= len(row) {
			return nil, fmt.Errorf("exec: column index %d out of range for row of width %d", e.ColIndex, len(row))
		}
		return row[e.ColIndex], nil
	case plan.ExprLiteral:
		return e.Literal, nil
	case plan.ExprBinary:
		left, err := evalExpr(e.Left, row)
		if err != nil {
			return nil, err
		}
		right, err := evalExpr(e.Right, row)
		if err != nil {
			return nil, err
		}
		return evalBinary(e.Op, left, right)
	default:
		return nil, fmt.Errorf("exec: unknown expr kind %v", e.Kind)
	}
}

// evalBinary applies op to two already-evaluated operands, promoting
// int32 -> int64 and int64/float64 mixes -> float64 before comparing or
// arithmetic.
func evalBinary(op plan.BinOp, left, right any) (any, error) {
	if op.IsComparison() {
		c, err := compareValues(left, right)
		if err != nil {
			return nil, err
		}
		switch op {
		case plan.OpEq:
			return c == 0, nil
		case plan.OpNe:
			return c != 0, nil
		case plan.OpLt:
			return c < 0, nil
		case plan.OpLe:
			return c <= 0, nil
		case plan.OpGt:
			return c > 0, nil
		case plan.OpGe:
			return c >= 0, nil
		}
	}

	lf, lIsFloat, lok := numeric(left)
	rf, rIsFloat, rok := numeric(right)
	if !lok || !rok {
		return nil, fmt.Errorf("exec: arithmetic operator %v requires numeric operands, got %T and %T", op, left, right)
	}
	if lIsFloat || rIsFloat {
		switch op {
		case plan.OpAdd:
			return lf + rf, nil
		case plan.OpSub:
			return lf - rf, nil
		case plan.OpMul:
			return lf * rf, nil
		case plan.OpDiv:
			return lf / rf, nil
		}
	}
	li, ri := int64(lf), int64(rf)
	switch op {
	case plan.OpAdd:
		return li + ri, nil
	case plan.OpSub:
		return li - ri, nil
	case plan.OpMul:
		return li * ri, nil
	case plan.OpDiv:
		if ri == 0 {
			return nil, fmt.Errorf("exec: division by zero")
		}
		return li / ri, nil
	}
	return nil, fmt.Errorf("exec: unsupported binary operator %v", op)
}

// numeric normalizes int32/int64/float32/float64 into a float64 view plus
// whether the original was float-typed (so the caller can decide whether
// to promote the whole operation to float64 or keep int64 arithmetic).
func numeric(v any) (f float64, isFloat, ok bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), false, true
	case int64:
		return float64(x), false, true
	case int:
		return float64(x), false, true
	case float32:
		return float64(x), true, true
	case float64:
		return x, true, true
	default:
		return 0, false, false
	}
}

// compareValues orders two scalar column values: numeric types compare
// under the float/int promotion rules above, strings compare
// lexicographically, bools compare equal/unequal only.
func compareValues(a, b any) (int, error) {
	if af, _, aok := numeric(a); aok {
		if bf, _, bok := numeric(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, nil
			case as > bs:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ab == bb {
				return 0, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("exec: cannot compare %T with %T", a, b)
}

// evalConjunct evaluates a normalized comparison conjunct against row.
func evalConjunct(c plan.Conjunct, row Row) (bool, error) {
	v, err := evalExpr(&plan.Expr{Kind: plan.ExprBinary, Op: c.Cond.Op, Left: c.Cond.Left, Right: c.Cond.Right}, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("exec: conjunct did not evaluate to bool")
	}
	return b, nil
}

// evalAll reports whether every conjunct in preds holds for row.
func evalAll(preds []plan.Conjunct, row Row) (bool, error) {
	for _, c := range preds {
		ok, err := evalConjunct(c, row)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
