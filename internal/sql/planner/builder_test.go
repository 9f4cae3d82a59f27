package planner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/sql/parser"
	"github.com/nmarchenko/ridgeline/internal/table"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	pm, err := page.Open(filepath.Join(t.TempDir(), "db.pages"), true, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	cat, err := table.OpenCatalog(pm)
	require.NoError(t, err)

	accounts := table.NewSchema("accounts", []table.Column{
		{Name: "id", Type: table.TypeInt64},
		{Name: "balance", Type: table.TypeInt64},
	}, "id", false, nil)
	_, err = cat.CreateTable(accounts)
	require.NoError(t, err)

	adjustments := table.NewSchema("adjustments", []table.Column{
		{Name: "id", Type: table.TypeInt64},
		{Name: "delta", Type: table.TypeInt64},
	}, "id", false, nil)
	_, err = cat.CreateTable(adjustments)
	require.NoError(t, err)

	return New(cat)
}

// TestBuildUpdateFromJoinsExtraTables: UPDATE ... FROM joins the extra
// tables behind the target so SET/WHERE can reference their columns,
// while the target table stays the leftmost leaf (its columns form the
// row prefix the executor mutates).
func TestBuildUpdateFromJoinsExtraTables(t *testing.T) {
	b := testBuilder(t)

	stmt := &parser.UpdateStmt{
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
	}

	node, err := b.BuildUpdate(stmt)
	require.NoError(t, err)
	require.Equal(t, plan.KindUpdate, node.Kind)
	require.Equal(t, "accounts", node.DMLTable)

	filter := node.Child0()
	require.Equal(t, plan.KindFilter, filter.Kind)
	join := filter.Child0()
	require.Equal(t, plan.KindJoin, join.Kind)
	require.Equal(t, "accounts", join.Child0().TableName)
	require.Equal(t, "adjustments", join.Child1().TableName)

	// The assignment resolves against the combined schema: accounts
	// columns at 0-1, adjustments columns at 2-3.
	assign := node.UpdateAssign["balance"]
	require.NotNil(t, assign)
	require.Equal(t, plan.OpAdd, assign.Op)
	require.Equal(t, 1, assign.Left.ColIndex)
	require.Equal(t, 3, assign.Right.ColIndex)
}

// TestBuildUpdateWithoutFromRejectsForeignColumns: with no FROM clause,
// a SET referencing another table's column does not resolve.
func TestBuildUpdateWithoutFromRejectsForeignColumns(t *testing.T) {
	b := testBuilder(t)

	stmt := &parser.UpdateStmt{
		TableName: "accounts",
		Assignments: []parser.Assignment{{
			Column: "balance",
			Value:  &parser.ColumnRef{Table: "adjustments", Column: "delta"},
		}},
	}

	_, err := b.BuildUpdate(stmt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown column")
}
