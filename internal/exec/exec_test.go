package exec

import (
	"path/filepath"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

func testCatalog(t *testing.T) *table.Catalog {
	t.Helper()
	dir := t.TempDir()
	pm, err := page.Open(filepath.Join(dir, "db.pages"), true, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	cat, err := table.OpenCatalog(pm)
	require.NoError(t, err)
	return cat
}

func oneTableBits() *bitset.BitSet {
	b := bitset.New(1)
	b.Set(0)
	return b
}

// TestInsertThenSeqScanOrderBy drives insert-then-ordered-select through
// the real plan nodes and operators instead of table.Table directly.
func TestInsertThenSeqScanOrderBy(t *testing.T) {
	cat := testCatalog(t)
	lm := txn.NewLockManager()
	mgr := txn.NewManager(lm, cat)

	s := table.NewSchema("t", []table.Column{
		{Name: "a", Type: table.TypeInt64},
		{Name: "b", Type: table.TypeFloat64},
	}, "a", false, nil)
	_, err := cat.CreateTable(s)
	require.NoError(t, err)

	// INSERT INTO t VALUES (2, 3.5), (1, 2.5);
	insTxn := mgr.Begin()
	insNode := plan.NewLeaf(plan.KindInsert, oneTableBits())
	insNode.DMLTable = "t"
	insNode.InsertRows = [][]*plan.Expr{
		{plan.Lit(int64(2)), plan.Lit(3.5)},
		{plan.Lit(int64(1)), plan.Lit(2.5)},
	}
	insOp, err := Build(insNode, &Context{Catalog: cat, Txn: insTxn, Locks: lm})
	require.NoError(t, err)
	rows, err := Run(insOp)
	require.NoError(t, err)
	require.Equal(t, []Row{{int64(2)}}, rows)
	require.NoError(t, mgr.Commit(insTxn))

	// SELECT * FROM t ORDER BY a;
	selTxn := mgr.Begin()
	scanNode := plan.NewLeaf(plan.KindSeqScan, oneTableBits())
	scanNode.TableName = "t"
	orderNode := plan.NewUnary(plan.KindOrderBy, scanNode)
	orderNode.OrderKeys = []plan.OrderKey{{Expr: plan.Col(0), Desc: false}}

	op, err := Build(orderNode, &Context{Catalog: cat, Txn: selTxn, Locks: lm})
	require.NoError(t, err)
	rows, err = Run(op)
	require.NoError(t, err)
	require.Equal(t, []Row{
		{int64(1), 2.5},
		{int64(2), 3.5},
	}, rows)
	require.NoError(t, mgr.Commit(selTxn))
}

// TestDeleteUndoOnAbort exercises the abort-undo contract: a Delete's
// undo record must restore the deleted row when the surrounding
// transaction aborts instead of commits.
func TestDeleteUndoOnAbort(t *testing.T) {
	cat := testCatalog(t)
	lm := txn.NewLockManager()
	mgr := txn.NewManager(lm, cat)

	s := table.NewSchema("t", []table.Column{
		{Name: "a", Type: table.TypeInt64},
	}, "a", false, nil)
	_, err := cat.CreateTable(s)
	require.NoError(t, err)

	setupTxn := mgr.Begin()
	tbl, err := cat.Open("t")
	require.NoError(t, err)
	_, err = tbl.Insert([]any{int64(1)})
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(setupTxn))

	delTxn := mgr.Begin()
	scanNode := plan.NewLeaf(plan.KindSeqScan, oneTableBits())
	scanNode.TableName = "t"
	delNode := plan.NewUnary(plan.KindDelete, scanNode)
	delNode.DMLTable = "t"

	op, err := Build(delNode, &Context{Catalog: cat, Txn: delTxn, Locks: lm})
	require.NoError(t, err)
	_, err = Run(op)
	require.NoError(t, err)

	_, ok, err := tbl.Get(mustEncodeKey(t, s, int64(1)))
	require.NoError(t, err)
	require.False(t, ok, "row should be gone before abort")

	require.NoError(t, mgr.Abort(delTxn))

	row, ok, err := tbl.Get(mustEncodeKey(t, s, int64(1)))
	require.NoError(t, err)
	require.True(t, ok, "abort must undo the delete")
	require.Equal(t, []any{int64(1)}, row)
}

func mustEncodeKey(t *testing.T, s table.Schema, v any) []byte {
	t.Helper()
	k, err := table.EncodeKey(s.PKColumn(), v)
	require.NoError(t, err)
	return k
}

// TestHashJoinMatchesNestedLoop checks HashJoin and the nested-loop Join
// fallback agree on the same pair of tables.
func TestHashJoinMatchesNestedLoop(t *testing.T) {
	cat := testCatalog(t)
	lm := txn.NewLockManager()
	mgr := txn.NewManager(lm, cat)

	left := table.NewSchema("l", []table.Column{{Name: "id", Type: table.TypeInt64}}, "id", false, nil)
	right := table.NewSchema("r", []table.Column{
		{Name: "id", Type: table.TypeInt64},
		{Name: "lid", Type: table.TypeInt64},
	}, "id", false, nil)
	_, err := cat.CreateTable(left)
	require.NoError(t, err)
	_, err = cat.CreateTable(right)
	require.NoError(t, err)

	setup := mgr.Begin()
	lTbl, err := cat.Open("l")
	require.NoError(t, err)
	rTbl, err := cat.Open("r")
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		_, err := lTbl.Insert([]any{i})
		require.NoError(t, err)
	}
	_, err = rTbl.Insert([]any{int64(100), int64(1)})
	require.NoError(t, err)
	_, err = rTbl.Insert([]any{int64(101), int64(2)})
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(setup))

	build := func() (*plan.Node, *plan.Node) {
		l := plan.NewLeaf(plan.KindSeqScan, oneTableBits())
		l.TableName = "l"
		r := plan.NewLeaf(plan.KindSeqScan, oneTableBits())
		r.TableName = "r"
		return l, r
	}

	// Nested-loop join: l.id = r.lid
	nlTxn := mgr.Begin()
	l, r := build()
	nlJoin := plan.NewBinary(plan.KindJoin, l, r)
	nlJoin.JoinPred = []plan.Conjunct{{
		Cond: plan.BinaryConditionExpr{Op: plan.OpEq, Left: plan.Col(0), Right: plan.Col(2)},
	}}
	nlOp, err := Build(nlJoin, &Context{Catalog: cat, Txn: nlTxn, Locks: lm})
	require.NoError(t, err)
	nlRows, err := Run(nlOp)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(nlTxn))

	// Hash join: same predicate, hash keys on l.id / r.lid.
	hjTxn := mgr.Begin()
	l2, r2 := build()
	hj := plan.NewBinary(plan.KindHashJoin, l2, r2)
	hj.LeftHashExprs = []*plan.Expr{plan.Col(0)}
	hj.RightHashExprs = []*plan.Expr{plan.Col(1)}
	hjOp, err := Build(hj, &Context{Catalog: cat, Txn: hjTxn, Locks: lm})
	require.NoError(t, err)
	hjRows, err := Run(hjOp)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(hjTxn))

	require.Len(t, nlRows, 2)
	require.ElementsMatch(t, nlRows, hjRows)
}
