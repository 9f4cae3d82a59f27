package exec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nmarchenko/ridgeline/internal/plan"
)

// orderByOp materializes its child, sorts by the given key expressions
// and directions, and emits. Stable; ties are
// broken by original insertion order.
type orderByOp struct {
	node  *plan.Node
	child Operator
	rows  []Row
	pos   int
	n     uint64
	err   error
}

func newOrderBy(n *plan.Node, child Operator) *orderByOp { return &orderByOp{node: n, child: child} }

func (o *orderByOp) Init() error {
	if err := o.child.Init(); err != nil {
		return err
	}
	o.rows, o.pos, o.err = nil, 0, nil
	for {
		row, ok, err := o.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.rows = append(o.rows, row)
	}
	sort.SliceStable(o.rows, func(i, j int) bool {
		less, err := o.less(o.rows[i], o.rows[j])
		if err != nil {
			o.err = err
		}
		return less
	})
	return o.err
}

func (o *orderByOp) less(a, b Row) (bool, error) {
	for _, k := range o.node.OrderKeys {
		av, err := evalExpr(k.Expr, a)
		if err != nil {
			return false, err
		}
		bv, err := evalExpr(k.Expr, b)
		if err != nil {
			return false, err
		}
		c, err := compareValues(av, bv)
		if err != nil {
			return false, err
		}
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0, nil
		}
		return c < 0, nil
	}
	return false, nil
}

func (o *orderByOp) Next() (Row, bool, error) {
	if o.pos >= len(o.rows) {
		return nil, false, nil
	}
	row := o.rows[o.pos]
	o.pos++
	o.n++
	return row, true, nil
}

func (o *orderByOp) TotalOutputSize() uint64 { return o.n }

// limitOp emits rows in range [offset, offset+limit).
type limitOp struct {
	node    *plan.Node
	child   Operator
	skipped int
	n       uint64
}

func newLimit(n *plan.Node, child Operator) *limitOp { return &limitOp{node: n, child: child} }

func (l *limitOp) Init() error {
	l.skipped, l.n = 0, 0
	return l.child.Init()
}

func (l *limitOp) Next() (Row, bool, error) {
	if l.node.LimitCount >= 0 && int(l.n) >= l.node.LimitCount {
		return nil, false, nil
	}
	for l.skipped < l.node.Offset {
		_, ok, err := l.child.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		l.skipped++
	}
	row, ok, err := l.child.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	l.n++
	return row, true, nil
}

func (l *limitOp) TotalOutputSize() uint64 { return l.n }

// distinctOp hash-dedups over the full row.
type distinctOp struct {
	child Operator
	seen  map[string]bool
	n     uint64
}

func newDistinct(child Operator) *distinctOp {
	return &distinctOp{child: child, seen: make(map[string]bool)}
}

func (d *distinctOp) Init() error {
	d.seen = make(map[string]bool)
	return d.child.Init()
}

func (d *distinctOp) Next() (Row, bool, error) {
	for {
		row, ok, err := d.child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		key := rowKey(row)
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		d.n++
		return row, true, nil
	}
}

func (d *distinctOp) TotalOutputSize() uint64 { return d.n }

func rowKey(row Row) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte('\x00')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String()
}

// printOp is the terminal pass-through operator that hands completed
// rows up to the caller unchanged.
type printOp struct {
	child Operator
	n     uint64
}

func newPrint(child Operator) *printOp { return &printOp{child: child} }

func (p *printOp) Init() error { return p.child.Init() }

func (p *printOp) Next() (Row, bool, error) {
	row, ok, err := p.child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	p.n++
	return row, true, nil
}

func (p *printOp) TotalOutputSize() uint64 { return p.n }
