package exec

import (
	"fmt"
	"strings"

	"github.com/nmarchenko/ridgeline/internal/plan"
)

// aggState accumulates one AggExpr's running value for one group.
type aggState struct {
	fn       plan.AggFunc
	sum      float64
	count    int64
	min, max any
	haveMM   bool
}

func (s *aggState) add(v any) error {
	s.count++
	switch s.fn {
	case plan.AggCountStar, plan.AggCount:
		return nil
	case plan.AggSum, plan.AggAvg:
		f, _, ok := numeric(v)
		if !ok {
			return fmt.Errorf("exec: aggregate on non-numeric value %T", v)
		}
		s.sum += f
	case plan.AggMin:
		if !s.haveMM {
			s.min, s.haveMM = v, true
			return nil
		}
		if c, err := compareValues(v, s.min); err == nil && c < 0 {
			s.min = v
		}
	case plan.AggMax:
		if !s.haveMM {
			s.max, s.haveMM = v, true
			return nil
		}
		if c, err := compareValues(v, s.max); err == nil && c > 0 {
			s.max = v
		}
	}
	return nil
}

func (s *aggState) result() any {
	switch s.fn {
	case plan.AggCountStar, plan.AggCount:
		return s.count
	case plan.AggSum:
		return s.sum
	case plan.AggAvg:
		if s.count == 0 {
			return 0.0
		}
		return s.sum / float64(s.count)
	case plan.AggMin:
		return s.min
	case plan.AggMax:
		return s.max
	default:
		return nil
	}
}

// aggregateOp is single-pass hash aggregation keyed by GroupByExprs,
// supporting sum/min/max/avg/count/count(*), with HavingPred applied
// post-aggregation.
type aggregateOp struct {
	node  *plan.Node
	child Operator
	rows  []Row
	pos   int
	n     uint64
}

func newAggregate(n *plan.Node, child Operator) *aggregateOp {
	return &aggregateOp{node: n, child: child}
}

type groupEntry struct {
	keyVals []any
	states  []*aggState
}

func (a *aggregateOp) Init() error {
	if err := a.child.Init(); err != nil {
		return err
	}
	a.rows, a.pos = nil, 0
	order := make([]string, 0)
	groups := make(map[string]*groupEntry)

	for {
		row, ok, err := a.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyVals := make([]any, len(a.node.GroupByExprs))
		for i, e := range a.node.GroupByExprs {
			v, err := evalExpr(e, row)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		key := groupKey(keyVals)
		g, ok := groups[key]
		if !ok {
			g = &groupEntry{keyVals: keyVals, states: make([]*aggState, len(a.node.AggExprs))}
			for i, ae := range a.node.AggExprs {
				g.states[i] = &aggState{fn: ae.Func}
			}
			groups[key] = g
			order = append(order, key)
		}
		for i, ae := range a.node.AggExprs {
			var v any
			if ae.Arg != nil {
				v, err = evalExpr(ae.Arg, row)
				if err != nil {
					return err
				}
			}
			if err := g.states[i].add(v); err != nil {
				return err
			}
		}
	}

	for _, key := range order {
		g := groups[key]
		out := make(Row, 0, len(g.keyVals)+len(g.states))
		out = append(out, g.keyVals...)
		for _, s := range g.states {
			out = append(out, s.result())
		}
		keep, err := evalAll(a.node.HavingPred, out)
		if err != nil {
			return err
		}
		if keep {
			a.rows = append(a.rows, out)
		}
	}
	return nil
}

func groupKey(vals []any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('\x00')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String()
}

func (a *aggregateOp) Next() (Row, bool, error) {
	if a.pos >= len(a.rows) {
		return nil, false, nil
	}
	row := a.rows[a.pos]
	a.pos++
	a.n++
	return row, true, nil
}

func (a *aggregateOp) TotalOutputSize() uint64 { return a.n }
