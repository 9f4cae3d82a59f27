package exec

import (
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

// insertOp inserts InsertRows' literal row expressions under an IX table
// lock plus an X tuple lock per inserted key, pushing an undo record
// before each insert, and returns the affected row count as a single-row
// output.
type insertOp struct {
	node *plan.Node
	ctx  *Context
	done bool
}

func newInsert(n *plan.Node, ctx *Context) *insertOp { return &insertOp{node: n, ctx: ctx} }

func (ins *insertOp) Init() error {
	return ins.ctx.Locks.AcquireTableLock(ins.ctx.Txn, ins.node.DMLTable, txn.IX)
}

func (ins *insertOp) Next() (Row, bool, error) {
	if ins.done {
		return nil, false, nil
	}
	ins.done = true

	tbl, err := ins.ctx.Catalog.Open(ins.node.DMLTable)
	if err != nil {
		return nil, false, err
	}
	schema := tbl.Schema()

	var affected int64
	for _, exprs := range ins.node.InsertRows {
		values := make([]any, len(exprs))
		for i, e := range exprs {
			v, err := evalExpr(e, nil)
			if err != nil {
				return nil, false, err
			}
			values[i] = v
		}
		if schema.AutoGenPK && values[schema.PKIndex] == nil {
			next, err := tbl.NextAutoPK()
			if err != nil {
				return nil, false, err
			}
			values[schema.PKIndex] = next
		}
		key, err := table.EncodeKey(schema.PKColumn(), values[schema.PKIndex])
		if err != nil {
			return nil, false, err
		}
		if err := ins.ctx.Locks.AcquireTupleLock(ins.ctx.Txn, ins.node.DMLTable, key, txn.X); err != nil {
			return nil, false, err
		}
		ins.ctx.Txn.PushUndo(txn.ModifyRecord{Kind: txn.ModifyInsert, Table: ins.node.DMLTable, Key: key})
		if _, err := tbl.Insert(values); err != nil {
			return nil, false, err
		}
		affected++
	}
	return Row{affected}, true, nil
}

func (ins *insertOp) TotalOutputSize() uint64 { return 1 }

// insertFromOp is the INSERT INTO t SELECT ... variant: each child row
// maps positionally onto t's declared (non-hidden) columns, under the
// same IX-table/X-tuple lock and undo discipline as the literal form.
type insertFromOp struct {
	node  *plan.Node
	ctx   *Context
	child Operator
	done  bool
}

func newInsertFrom(n *plan.Node, ctx *Context, child Operator) *insertFromOp {
	return &insertFromOp{node: n, ctx: ctx, child: child}
}

func (ins *insertFromOp) Init() error {
	if err := ins.ctx.Locks.AcquireTableLock(ins.ctx.Txn, ins.node.DMLTable, txn.IX); err != nil {
		return err
	}
	return ins.child.Init()
}

func (ins *insertFromOp) Next() (Row, bool, error) {
	if ins.done {
		return nil, false, nil
	}
	ins.done = true

	tbl, err := ins.ctx.Catalog.Open(ins.node.DMLTable)
	if err != nil {
		return nil, false, err
	}
	schema := tbl.Schema()

	var affected int64
	for {
		row, ok, err := ins.child.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}

		values := make([]any, len(schema.Columns))
		pos := 0
		for i, c := range schema.Columns {
			if schema.HiddenPK && c.Name == table.HiddenPKName {
				continue
			}
			if pos >= len(row) {
				return nil, false, fmt.Errorf("exec: INSERT INTO %s: row has %d values", ins.node.DMLTable, len(row))
			}
			values[i] = row[pos]
			pos++
		}
		if schema.AutoGenPK && values[schema.PKIndex] == nil {
			next, err := tbl.NextAutoPK()
			if err != nil {
				return nil, false, err
			}
			values[schema.PKIndex] = next
		}

		key, err := table.EncodeKey(schema.PKColumn(), values[schema.PKIndex])
		if err != nil {
			return nil, false, err
		}
		if err := ins.ctx.Locks.AcquireTupleLock(ins.ctx.Txn, ins.node.DMLTable, key, txn.X); err != nil {
			return nil, false, err
		}
		ins.ctx.Txn.PushUndo(txn.ModifyRecord{Kind: txn.ModifyInsert, Table: ins.node.DMLTable, Key: key})
		if _, err := tbl.Insert(values); err != nil {
			return nil, false, err
		}
		affected++
	}
	return Row{affected}, true, nil
}

func (ins *insertFromOp) TotalOutputSize() uint64 { return 1 }

// updateOp applies UpdateAssign to every row its child produces, under an
// IX table lock plus an X tuple lock per row, pushing an undo record
// before the mutation. The child is a scan/filter chain over DMLTable,
// or, for UPDATE ... FROM, a join whose leftmost leaf is DMLTable: the
// target table's columns always form the row prefix, with any joined
// columns after them visible only to SET/WHERE expressions.
type updateOp struct {
	node  *plan.Node
	ctx   *Context
	child Operator
	done  bool
}

func newUpdate(n *plan.Node, ctx *Context, child Operator) *updateOp {
	return &updateOp{node: n, ctx: ctx, child: child}
}

func (u *updateOp) Init() error {
	if err := u.ctx.Locks.AcquireTableLock(u.ctx.Txn, u.node.DMLTable, txn.IX); err != nil {
		return err
	}
	return u.child.Init()
}

func (u *updateOp) Next() (Row, bool, error) {
	if u.done {
		return nil, false, nil
	}
	u.done = true

	tbl, err := u.ctx.Catalog.Open(u.node.DMLTable)
	if err != nil {
		return nil, false, err
	}
	schema := tbl.Schema()

	var affected int64
	for {
		row, ok, err := u.child.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}

		if len(row) < len(schema.Columns) {
			return nil, false, fmt.Errorf("exec: UPDATE %s: row has %d values, table has %d columns", u.node.DMLTable, len(row), len(schema.Columns))
		}
		key, err := table.EncodeKey(schema.PKColumn(), row[schema.PKIndex])
		if err != nil {
			return nil, false, err
		}
		if err := u.ctx.Locks.AcquireTupleLock(u.ctx.Txn, u.node.DMLTable, key, txn.X); err != nil {
			return nil, false, err
		}

		priorRaw, err := table.EncodeRow(schema, row[:len(schema.Columns)])
		if err != nil {
			return nil, false, err
		}
		newRow := append([]any(nil), row[:len(schema.Columns)]...)
		for col, e := range u.node.UpdateAssign {
			idx := schema.ColumnIndex(col)
			if idx < 0 {
				return nil, false, fmt.Errorf("exec: unknown column %s in UPDATE SET", col)
			}
			v, err := evalExpr(e, row)
			if err != nil {
				return nil, false, err
			}
			newRow[idx] = v
		}

		u.ctx.Txn.PushUndo(txn.ModifyRecord{Kind: txn.ModifyUpdate, Table: u.node.DMLTable, Key: key, PriorValue: priorRaw})
		if _, err := tbl.Update(key, newRow); err != nil {
			return nil, false, err
		}
		affected++
	}
	return Row{affected}, true, nil
}

func (u *updateOp) TotalOutputSize() uint64 { return 1 }

// deleteOp removes every row its child produces, under an IX table lock
// plus an X tuple lock per row, pushing an undo record before the
// mutation.
type deleteOp struct {
	node  *plan.Node
	ctx   *Context
	child Operator
	done  bool
}

func newDelete(n *plan.Node, ctx *Context, child Operator) *deleteOp {
	return &deleteOp{node: n, ctx: ctx, child: child}
}

func (d *deleteOp) Init() error {
	if err := d.ctx.Locks.AcquireTableLock(d.ctx.Txn, d.node.DMLTable, txn.IX); err != nil {
		return err
	}
	return d.child.Init()
}

func (d *deleteOp) Next() (Row, bool, error) {
	if d.done {
		return nil, false, nil
	}
	d.done = true

	tbl, err := d.ctx.Catalog.Open(d.node.DMLTable)
	if err != nil {
		return nil, false, err
	}
	schema := tbl.Schema()

	var affected int64
	for {
		row, ok, err := d.child.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		key, err := table.EncodeKey(schema.PKColumn(), row[schema.PKIndex])
		if err != nil {
			return nil, false, err
		}
		if err := d.ctx.Locks.AcquireTupleLock(d.ctx.Txn, d.node.DMLTable, key, txn.X); err != nil {
			return nil, false, err
		}
		priorRaw, err := table.EncodeRow(schema, row)
		if err != nil {
			return nil, false, err
		}
		d.ctx.Txn.PushUndo(txn.ModifyRecord{Kind: txn.ModifyDelete, Table: d.node.DMLTable, Key: key, PriorValue: priorRaw})
		if _, err := tbl.Delete(key); err != nil {
			return nil, false, err
		}
		affected++
	}
	return Row{affected}, true, nil
}

func (d *deleteOp) TotalOutputSize() uint64 { return 1 }
