package exec

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

// buildBalanceUpdate builds the operator tree for
// UPDATE accounts SET balance = balance + delta WHERE id = <id>.
func buildBalanceUpdate(id int64, delta int64) *plan.Node {
	scan := plan.NewLeaf(plan.KindSeqScan, oneTableBits())
	scan.TableName = "accounts"
	scan.Predicate = []plan.Conjunct{{
		Cond: plan.BinaryConditionExpr{Op: plan.OpEq, Left: plan.Col(0), Right: plan.Lit(id)},
	}}

	u := plan.NewUnary(plan.KindUpdate, scan)
	u.DMLTable = "accounts"
	u.UpdateAssign = map[string]*plan.Expr{
		"balance": plan.Bin(plan.OpAdd, plan.Col(1), plan.Lit(delta)),
	}
	return u
}

// TestConcurrentTransfersConverge: ten concurrent
// transactions each move 1 from account A to account B under 2PL with
// wait-die; losers retry with a fresh (younger) transaction until they
// succeed. Money is conserved and all ten transfers land.
func TestConcurrentTransfersConverge(t *testing.T) {
	cat := testCatalog(t)
	lm := txn.NewLockManager()
	mgr := txn.NewManager(lm, cat)

	s := table.NewSchema("accounts", []table.Column{
		{Name: "id", Type: table.TypeInt64},
		{Name: "balance", Type: table.TypeInt64},
	}, "id", false, nil)
	tbl, err := cat.CreateTable(s)
	require.NoError(t, err)
	_, err = tbl.Insert([]any{int64(1), int64(100)})
	require.NoError(t, err)
	_, err = tbl.Insert([]any{int64(2), int64(100)})
	require.NoError(t, err)

	transfer := func(tx *txn.Txn) error {
		for _, node := range []*plan.Node{
			buildBalanceUpdate(1, -1),
			buildBalanceUpdate(2, +1),
		} {
			op, err := Build(node, &Context{Catalog: cat, Txn: tx, Locks: lm})
			if err != nil {
				return err
			}
			if _, err := Run(op); err != nil {
				return err
			}
		}
		return mgr.Commit(tx)
	}

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 1000; attempt++ {
				tx := mgr.Begin()
				err := transfer(tx)
				if err == nil {
					return
				}
				_ = mgr.Abort(tx)
				time.Sleep(time.Duration(attempt%5+1) * time.Millisecond)
			}
			t.Error("transfer did not converge within the retry budget")
		}()
	}
	wg.Wait()

	k1, err := table.EncodeKey(s.PKColumn(), int64(1))
	require.NoError(t, err)
	k2, err := table.EncodeKey(s.PKColumn(), int64(2))
	require.NoError(t, err)

	rowA, ok, err := tbl.Get(k1)
	require.NoError(t, err)
	require.True(t, ok)
	rowB, ok, err := tbl.Get(k2)
	require.NoError(t, err)
	require.True(t, ok)

	a := rowA[1].(int64)
	b := rowB[1].(int64)
	require.Equal(t, int64(200), a+b, "money must be conserved")
	require.Equal(t, int64(90), a)
	require.Equal(t, int64(110), b)
}
