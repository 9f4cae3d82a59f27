// Package exec implements the executor operators: a
// Volcano-style init()/next()/total_output_size() contract per plan
// node, wired to internal/table for storage, internal/txn for lock
// acquisition and undo-record pushing, and internal/plan for the node
// shapes the optimizer hands off.
package exec

import (
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

// Row is one output tuple, in the producing operator's OutputSchema order.
type Row = []any

// Operator is every executor node's common shape: Init is
// idempotent and pre-positions any iterators; Next yields rows one at a
// time until it reports ok=false; TotalOutputSize reports how many rows
// have been produced so far.
type Operator interface {
	Init() error
	Next() (Row, bool, error)
	TotalOutputSize() uint64
}

// Context carries the resources every operator needs at build time: the
// catalog to open tables against, and the statement's own transaction
// (used to acquire locks and push undo records).
type Context struct {
	Catalog *table.Catalog
	Txn     *txn.Txn
	Locks   *txn.LockManager
}

// Build compiles a plan node, and recursively its children, into an
// operator tree.
func Build(n *plan.Node, ctx *Context) (Operator, error) {
	switch n.Kind {
	case plan.KindSeqScan:
		return newSeqScan(n, ctx), nil
	case plan.KindRangeScan:
		return newRangeScan(n, ctx), nil
	case plan.KindFilter:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newFilter(n, child), nil
	case plan.KindProject:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newProject(n, child), nil
	case plan.KindJoin:
		left, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		right, err := Build(n.Child1(), ctx)
		if err != nil {
			return nil, err
		}
		return newNestedLoopJoin(n, left, right), nil
	case plan.KindHashJoin:
		left, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		right, err := Build(n.Child1(), ctx)
		if err != nil {
			return nil, err
		}
		return newHashJoin(n, left, right), nil
	case plan.KindAggregate:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newAggregate(n, child), nil
	case plan.KindOrderBy:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newOrderBy(n, child), nil
	case plan.KindLimit:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newLimit(n, child), nil
	case plan.KindDistinct:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newDistinct(child), nil
	case plan.KindPrint:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newPrint(child), nil
	case plan.KindInsert:
		if n.NumChildren == 1 {
			child, err := Build(n.Child0(), ctx)
			if err != nil {
				return nil, err
			}
			return newInsertFrom(n, ctx, child), nil
		}
		return newInsert(n, ctx), nil
	case plan.KindUpdate:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newUpdate(n, ctx, child), nil
	case plan.KindDelete:
		child, err := Build(n.Child0(), ctx)
		if err != nil {
			return nil, err
		}
		return newDelete(n, ctx, child), nil
	default:
		return nil, fmt.Errorf("exec: unsupported plan node kind %v", n.Kind)
	}
}

// Run drives op to completion and collects every row (used by statement
// kinds whose result is materialized in full, e.g. the top-level SELECT
// result returned to the caller).
func Run(op Operator) ([]Row, error) {
	if err := op.Init(); err != nil {
		return nil, err
	}
	var rows []Row
	for {
		row, ok, err := op.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
