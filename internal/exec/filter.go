package exec

import "github.com/nmarchenko/ridgeline/internal/plan"

// filterOp forwards rows for which the predicate evaluates true.
type filterOp struct {
	node  *plan.Node
	child Operator
	n     uint64
}

func newFilter(n *plan.Node, child Operator) *filterOp { return &filterOp{node: n, child: child} }

func (f *filterOp) Init() error { return f.child.Init() }

func (f *filterOp) Next() (Row, bool, error) {
	for {
		row, ok, err := f.child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		keep, err := evalAll(f.node.FilterPred, row)
		if err != nil {
			return nil, false, err
		}
		if keep {
			f.n++
			return row, true, nil
		}
	}
}

func (f *filterOp) TotalOutputSize() uint64 { return f.n }
