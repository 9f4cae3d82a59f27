package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/config"
	"github.com/nmarchenko/ridgeline/internal/sql/parser"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.File = filepath.Join(t.TempDir(), "db.pages")
	cfg.Storage.BufferPages = 64
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestBasicInsertSelect drives insert-then-ordered-select end to end through
// Database.Execute (CREATE TABLE/INSERT/SELECT) rather than by
// constructing plan.Node trees directly.
func TestBasicInsertSelect(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "t",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", PrimaryKey: true},
			{Name: "b", Type: "float64"},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "t",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: 2.5}},
			{&parser.LiteralExpr{Value: int64(2)}, &parser.LiteralExpr{Value: 3.5}},
		},
	})
	require.NoError(t, err)

	res, err := db.Execute(&parser.SelectStmt{
		From: []parser.TableRef{{Table: "t", Alias: "t"}},
		OrderBy: []parser.OrderItem{
			{Expr: &parser.ColumnRef{Table: "t", Column: "a"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, res.Columns)
	require.Equal(t, [][]any{
		{int64(1), 2.5},
		{int64(2), 3.5},
	}, res.Rows)
}

// TestForeignKeyRefusesDrop: DROP TABLE on a
// referenced table is refused while its refcount table holds a nonzero
// count.
func TestForeignKeyRefusesDrop(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "A",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", PrimaryKey: true, AutoIncrement: true},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.CreateTableStmt{
		TableName: "B",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", References: &parser.ForeignKeyRef{Table: "A", Column: "a"}},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "A",
		Rows:      [][]parser.Expr{{&parser.LiteralExpr{Value: nil}}},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "B",
		Rows:      [][]parser.Expr{{&parser.LiteralExpr{Value: int64(1)}}},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.DropTableStmt{TableName: "A"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "refcount")
}

// TestShowTableAndAnalyzeStats exercises the shell meta-commands
// over a populated table.
func TestShowTableAndAnalyzeStats(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "t",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", PrimaryKey: true},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "t",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}},
			{&parser.LiteralExpr{Value: int64(2)}},
		},
	})
	require.NoError(t, err)

	show, err := db.Execute(&parser.ShowTableStmt{})
	require.NoError(t, err)
	require.Equal(t, [][]any{{"t"}}, show.Rows)

	statsBefore, err := db.Execute(&parser.StatsStmt{TableName: "t"})
	require.NoError(t, err)
	require.Contains(t, statsBefore.Message, "not been analyzed")

	_, err = db.Execute(&parser.AnalyzeStmt{TableName: "t"})
	require.NoError(t, err)

	statsAfter, err := db.Execute(&parser.StatsStmt{TableName: "t"})
	require.NoError(t, err)
	require.Contains(t, statsAfter.Message, "2 rows")
}

// TestUpdateThenDeleteRoundTrip checks that the engine's
// DML path commits durably: an UPDATE followed by a DELETE each see the
// prior statement's committed effect.
func TestUpdateThenDeleteRoundTrip(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "t",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", PrimaryKey: true},
			{Name: "b", Type: "int64"},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "t",
		Rows:      [][]parser.Expr{{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: int64(10)}}},
	})
	require.NoError(t, err)

	upd, err := db.Execute(&parser.UpdateStmt{
		TableName:   "t",
		Assignments: []parser.Assignment{{Column: "b", Value: &parser.LiteralExpr{Value: int64(20)}}},
		Where: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRef{Table: "t", Column: "a"},
			Right: &parser.LiteralExpr{Value: int64(1)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), upd.Affected)

	sel, err := db.Execute(&parser.SelectStmt{From: []parser.TableRef{{Table: "t", Alias: "t"}}})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), int64(20)}}, sel.Rows)

	del, err := db.Execute(&parser.DeleteStmt{
		TableName: "t",
		Where: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRef{Table: "t", Column: "a"},
			Right: &parser.LiteralExpr{Value: int64(1)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), del.Affected)

	sel2, err := db.Execute(&parser.SelectStmt{From: []parser.TableRef{{Table: "t", Alias: "t"}}})
	require.NoError(t, err)
	require.Empty(t, sel2.Rows)
}

// TestUpdateFromJoin: UPDATE ... FROM reads the joined table's columns
// in SET/WHERE while mutating only the target table's rows.
func TestUpdateFromJoin(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "accounts",
		Columns: []parser.ColumnDef{
			{Name: "id", Type: "int64", PrimaryKey: true},
			{Name: "balance", Type: "int64"},
		},
	})
	require.NoError(t, err)
	_, err = db.Execute(&parser.CreateTableStmt{
		TableName: "adjustments",
		Columns: []parser.ColumnDef{
			{Name: "id", Type: "int64", PrimaryKey: true},
			{Name: "delta", Type: "int64"},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(&parser.InsertStmt{
		TableName: "accounts",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: int64(100)}},
			{&parser.LiteralExpr{Value: int64(2)}, &parser.LiteralExpr{Value: int64(200)}},
		},
	})
	require.NoError(t, err)
	_, err = db.Execute(&parser.InsertStmt{
		TableName: "adjustments",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: int64(5)}},
		},
	})
	require.NoError(t, err)

	upd, err := db.Execute(&parser.UpdateStmt{
		TableName: "accounts",
		Assignments: []parser.Assignment{{
			Column: "balance",
			Value: &parser.BinaryExpr{
				Op:    parser.OpAdd,
				Left:  &parser.ColumnRef{Table: "accounts", Column: "balance"},
				Right: &parser.ColumnRef{Table: "adjustments", Column: "delta"},
			},
		}},
		From: []parser.TableRef{{Table: "adjustments"}},
		Where: &parser.BinaryExpr{
			Op:    parser.OpEq,
			Left:  &parser.ColumnRef{Table: "accounts", Column: "id"},
			Right: &parser.ColumnRef{Table: "adjustments", Column: "id"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), upd.Affected)

	sel, err := db.Execute(&parser.SelectStmt{
		From:    []parser.TableRef{{Table: "accounts", Alias: "accounts"}},
		OrderBy: []parser.OrderItem{{Expr: &parser.ColumnRef{Table: "accounts", Column: "id"}}},
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{int64(1), int64(105)},
		{int64(2), int64(200)},
	}, sel.Rows)
}

// TestInsertFromSelect copies one table's rows into another via
// INSERT INTO ... SELECT.
func TestInsertFromSelect(t *testing.T) {
	db := testDB(t)

	for _, name := range []string{"src", "dst"} {
		_, err := db.Execute(&parser.CreateTableStmt{
			TableName: name,
			Columns: []parser.ColumnDef{
				{Name: "a", Type: "int64", PrimaryKey: true},
				{Name: "b", Type: "int64"},
			},
		})
		require.NoError(t, err)
	}

	_, err := db.Execute(&parser.InsertStmt{
		TableName: "src",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: int64(10)}},
			{&parser.LiteralExpr{Value: int64(2)}, &parser.LiteralExpr{Value: int64(20)}},
		},
	})
	require.NoError(t, err)

	res, err := db.Execute(&parser.InsertStmt{
		TableName: "dst",
		Select:    &parser.SelectStmt{From: []parser.TableRef{{Table: "src", Alias: "src"}}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Affected)

	sel, err := db.Execute(&parser.SelectStmt{
		From:    []parser.TableRef{{Table: "dst", Alias: "dst"}},
		OrderBy: []parser.OrderItem{{Expr: &parser.ColumnRef{Table: "dst", Column: "a"}}},
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{int64(1), int64(10)},
		{int64(2), int64(20)},
	}, sel.Rows)
}

// TestDurabilityAcrossReopen checks that a clean close and reopen keeps
// every committed modification visible.
func TestDurabilityAcrossReopen(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.File = filepath.Join(t.TempDir(), "db.pages")
	cfg.Storage.BufferPages = 64

	db, err := Open(cfg)
	require.NoError(t, err)

	_, err = db.Execute(&parser.CreateTableStmt{
		TableName: "t",
		Columns: []parser.ColumnDef{
			{Name: "a", Type: "int64", PrimaryKey: true},
			{Name: "b", Type: "varchar", Size: 32},
		},
	})
	require.NoError(t, err)
	_, err = db.Execute(&parser.InsertStmt{
		TableName: "t",
		Rows: [][]parser.Expr{
			{&parser.LiteralExpr{Value: int64(1)}, &parser.LiteralExpr{Value: "one"}},
			{&parser.LiteralExpr{Value: int64(2)}, &parser.LiteralExpr{Value: "two"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	res, err := db2.Execute(&parser.SelectStmt{
		From:    []parser.TableRef{{Table: "t", Alias: "t"}},
		OrderBy: []parser.OrderItem{{Expr: &parser.ColumnRef{Table: "t", Column: "a"}}},
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{int64(1), "one"},
		{int64(2), "two"},
	}, res.Rows)
}

// TestExplainRendersPlanTree exercises EXPLAIN.
func TestExplainRendersPlanTree(t *testing.T) {
	db := testDB(t)

	_, err := db.Execute(&parser.CreateTableStmt{
		TableName: "t",
		Columns:   []parser.ColumnDef{{Name: "a", Type: "int64", PrimaryKey: true}},
	})
	require.NoError(t, err)

	res, err := db.Execute(&parser.ExplainStmt{
		Stmt: &parser.SelectStmt{From: []parser.TableRef{{Table: "t", Alias: "t"}}},
	})
	require.NoError(t, err)
	require.Contains(t, res.Message, "Scan")
}
