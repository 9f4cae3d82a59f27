package exec

import (
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

// seqScan opens a full-table cursor, applying its residual predicate per
// row; it acquires an IS lock on the table at init and an S lock on every
// tuple it returns.
type seqScan struct {
	node *plan.Node
	ctx  *Context
	tbl  *table.Table
	it   *table.RowIterator
	n    uint64
}

func newSeqScan(n *plan.Node, ctx *Context) *seqScan { return &seqScan{node: n, ctx: ctx} }

func (s *seqScan) Init() error {
	tbl, err := s.ctx.Catalog.Open(s.node.TableName)
	if err != nil {
		return err
	}
	s.tbl = tbl
	if err := s.ctx.Locks.AcquireTableLock(s.ctx.Txn, s.node.TableName, txn.IS); err != nil {
		return err
	}
	it, err := tbl.GetIterator()
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *seqScan) Next() (Row, bool, error) {
	for s.it.Valid() {
		key, row := s.it.Key(), s.it.Row()
		if _, err := s.it.Next(); err != nil {
			return nil, false, err
		}
		ok, err := evalAll(s.node.Predicate, row)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if err := s.ctx.Locks.AcquireTupleLock(s.ctx.Txn, s.node.TableName, key, txn.S); err != nil {
			return nil, false, err
		}
		s.n++
		return row, true, nil
	}
	return nil, false, nil
}

func (s *seqScan) TotalOutputSize() uint64 { return s.n }

// rangeScan opens a bounded cursor [lo_incl?, hi_incl?], otherwise
// behaving like seqScan.
type rangeScan struct {
	node *plan.Node
	ctx  *Context
	tbl  *table.Table
	it   *table.RowIterator
	n    uint64
}

func newRangeScan(n *plan.Node, ctx *Context) *rangeScan { return &rangeScan{node: n, ctx: ctx} }

func (s *rangeScan) Init() error {
	tbl, err := s.ctx.Catalog.Open(s.node.TableName)
	if err != nil {
		return err
	}
	s.tbl = tbl
	if err := s.ctx.Locks.AcquireTableLock(s.ctx.Txn, s.node.TableName, txn.IS); err != nil {
		return err
	}
	lo, err := boundToStorage(s.node.RangeLo, tbl.Schema().PKColumn())
	if err != nil {
		return err
	}
	hi, err := boundToStorage(s.node.RangeHi, tbl.Schema().PKColumn())
	if err != nil {
		return err
	}
	it, err := tbl.GetRangeIterator(lo, hi)
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func boundToStorage(b plan.Bound, pk table.Column) (table.Bound, error) {
	if b.Unbounded {
		return table.Bound{Unbounded: true}, nil
	}
	v, err := evalExpr(b.Value, nil)
	if err != nil {
		return table.Bound{}, err
	}
	key, err := table.EncodeKey(pk, v)
	if err != nil {
		return table.Bound{}, err
	}
	return table.Bound{Key: key, Inclusive: b.Inclusive}, nil
}

func (s *rangeScan) Next() (Row, bool, error) {
	for s.it.Valid() {
		key, row := s.it.Key(), s.it.Row()
		if _, err := s.it.Next(); err != nil {
			return nil, false, err
		}
		ok, err := evalAll(s.node.Predicate, row)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if err := s.ctx.Locks.AcquireTupleLock(s.ctx.Txn, s.node.TableName, key, txn.S); err != nil {
			return nil, false, err
		}
		s.n++
		return row, true, nil
	}
	return nil, false, nil
}

func (s *rangeScan) TotalOutputSize() uint64 { return s.n }
