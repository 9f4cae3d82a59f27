package optimize

import (
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/stats"
	"github.com/nmarchenko/ridgeline/internal/table"
)

// tableSummary is a single base-table leaf's cardinality estimate plus
// the per-column distinct-value counts used by join cardinality
// estimation.
type tableSummary struct {
	Card float64
	NDV  map[int]float64 // schema column index -> estimated distinct count
}

// estimateTable computes a leaf's single-table summary under its own
// residual predicate. A table with no ANALYZE'd statistics falls
// back to a summary of 1, since the optimizer has no basis to estimate
// further (the cost model still functions, just without selectivity
// information).
func estimateTable(leaf *plan.Node, sm *stats.Manager) tableSummary {
	st := sm.Get(leaf.TableName)
	if st == nil {
		return tableSummary{Card: 1, NDV: map[int]float64{}}
	}

	card := float64(st.TupleNum)
	for _, c := range leaf.Predicate {
		card *= selectivity(c, leaf.OutputSchema, st)
	}
	if leaf.Kind == plan.KindRangeScan {
		card *= rangeBoundSelectivity(leaf, st)
	}

	ndv := make(map[int]float64, len(st.Columns))
	for i, cs := range st.Columns {
		ndv[i] = cs.DistinctRate * card
	}
	return tableSummary{Card: card, NDV: ndv}
}

// selectivity estimates one conjunct's selectivity against st: an
// equality uses the Count-Min Sketch upper-bound frequency; a range
// comparison linearly interpolates over [min, max]; anything else
// (two-column comparisons, expressions) is ignored at selectivity 1.
func selectivity(c plan.Conjunct, schema plan.OutputSchema, st *stats.TableStatistics) float64 {
	col, lit, op, ok := colLiteralShape(c, schema)
	if !ok || st.TupleNum == 0 {
		return 1
	}
	switch op {
	case plan.OpEq:
		storageCol := table.Column{Type: schema[col].Type, Size: schema[col].Size}
		enc, err := table.EncodeKey(storageCol, lit)
		if err != nil {
			return 1
		}
		return st.Columns[col].CMS.Freq(enc) / float64(st.TupleNum)
	case plan.OpLt, plan.OpLe, plan.OpGt, plan.OpGe:
		return rangeFrac(st.Columns[col], op, lit)
	default:
		return 1
	}
}

// rangeBoundSelectivity applies RangeScan's own [lo, hi] bounds the same
// way an explicit filter conjunct would, since deriveRangeScan consumed
// those conjuncts out of Predicate into RangeLo/RangeHi.
func rangeBoundSelectivity(leaf *plan.Node, st *stats.TableStatistics) float64 {
	if leaf.PKColIndex < 0 || leaf.PKColIndex >= len(st.Columns) {
		return 1
	}
	cs := st.Columns[leaf.PKColIndex]
	sel := 1.0
	if !leaf.RangeLo.Unbounded {
		op := plan.OpGe
		if !leaf.RangeLo.Inclusive {
			op = plan.OpGt
		}
		sel *= rangeFrac(cs, op, leaf.RangeLo.Value.Literal)
	}
	if !leaf.RangeHi.Unbounded {
		op := plan.OpLe
		if !leaf.RangeHi.Inclusive {
			op = plan.OpLt
		}
		sel *= rangeFrac(cs, op, leaf.RangeHi.Value.Literal)
	}
	return sel
}

// colLiteralShape recognizes `column op literal` (in either operand
// order, normalizing the operator so the column is always the left
// side), the only conjunct shape the estimator assigns a selectivity to.
func colLiteralShape(c plan.Conjunct, schema plan.OutputSchema) (col int, lit any, op plan.BinOp, ok bool) {
	if c.Cond.Left.Kind == plan.ExprColumn && c.Cond.Right.Kind == plan.ExprLiteral {
		return c.Cond.Left.ColIndex, c.Cond.Right.Literal, c.Cond.Op, true
	}
	if c.Cond.Right.Kind == plan.ExprColumn && c.Cond.Left.Kind == plan.ExprLiteral {
		return c.Cond.Right.ColIndex, c.Cond.Left.Literal, flipCompare(c.Cond.Op), true
	}
	_ = schema
	return 0, nil, 0, false
}

func flipCompare(op plan.BinOp) plan.BinOp {
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

// rangeFrac linearly interpolates the fraction of [min, max] satisfying
// `col op lit`.
func rangeFrac(cs stats.ColumnStats, op plan.BinOp, lit any) float64 {
	minV, ok1 := asFloat(cs.Min)
	maxV, ok2 := asFloat(cs.Max)
	v, ok3 := asFloat(lit)
	if !ok1 || !ok2 || !ok3 || maxV <= minV {
		return 1
	}
	frac := (v - minV) / (maxV - minV)
	switch op {
	case plan.OpLt, plan.OpLe:
		// fall through: frac as computed is the fraction below v
	case plan.OpGt, plan.OpGe:
		frac = 1 - frac
	default:
		return 1
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return frac
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
