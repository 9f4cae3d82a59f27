package exec

import "github.com/nmarchenko/ridgeline/internal/plan"

// projectOp re-evaluates ProjectExprs into a new schema.
type projectOp struct {
	node  *plan.Node
	child Operator
	n     uint64
}

func newProject(n *plan.Node, child Operator) *projectOp { return &projectOp{node: n, child: child} }

func (p *projectOp) Init() error { return p.child.Init() }

func (p *projectOp) Next() (Row, bool, error) {
	row, ok, err := p.child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make(Row, len(p.node.ProjectExprs))
	for i, e := range p.node.ProjectExprs {
		v, err := evalExpr(e, row)
		if err != nil {
			return nil, false, err
		}
		out[i] = v
	}
	p.n++
	return out, true, nil
}

func (p *projectOp) TotalOutputSize() uint64 { return p.n }
