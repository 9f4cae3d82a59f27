package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/page"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	pm, err := page.Open(filepath.Join(dir, "db.pages"), true, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	cat, err := OpenCatalog(pm)
	require.NoError(t, err)
	return cat
}

// TestInsertSelectRoundTrip covers the basic insert/get cycle at the
// table-storage layer (CREATE TABLE t(a int64 primary key, b float64)).
func TestInsertSelectRoundTrip(t *testing.T) {
	cat := openCatalog(t)
	s := NewSchema("t", []Column{
		{Name: "a", Type: TypeInt64},
		{Name: "b", Type: TypeFloat64},
	}, "a", false, nil)

	tbl, err := cat.CreateTable(s)
	require.NoError(t, err)

	k1, err := tbl.Insert([]any{int64(1), float64(2.5)})
	require.NoError(t, err)
	k2, err := tbl.Insert([]any{int64(2), float64(3.5)})
	require.NoError(t, err)

	row1, ok, err := tbl.Get(k1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{int64(1), float64(2.5)}, row1)

	row2, ok, err := tbl.Get(k2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{int64(2), float64(3.5)}, row2)
}

// TestForeignKeyRefusesDropWithNonzeroRefcount: a referenced table
// cannot be dropped until every referencing row is gone.
func TestForeignKeyRefusesDropWithNonzeroRefcount(t *testing.T) {
	cat := openCatalog(t)

	aSchema := NewSchema("A", []Column{{Name: "a", Type: TypeInt64}}, "a", true, nil)
	_, err := cat.CreateTable(aSchema)
	require.NoError(t, err)

	bSchema := NewSchema("B", []Column{{Name: "a", Type: TypeInt64}}, "a", false,
		[]ForeignKey{{Column: "a", RefTable: "A", RefCol: "a"}})
	_, err = cat.CreateTable(bSchema)
	require.NoError(t, err)

	aTbl, err := cat.Open("A")
	require.NoError(t, err)
	_, err = aTbl.Insert([]any{int64(0)})
	require.NoError(t, err)

	bTbl, err := cat.Open("B")
	require.NoError(t, err)
	_, err = bTbl.Insert([]any{int64(0)})
	require.NoError(t, err)

	err = cat.DropTable("A")
	require.ErrorIs(t, err, ErrRefcountNonzero)

	// Deleting the referencing row in B brings the refcount to zero, so
	// A can now be dropped.
	aKeyCol := aTbl.schema.PKColumn()
	key, err := EncodeKey(aKeyCol, int64(0))
	require.NoError(t, err)
	_, err = bTbl.Delete(key)
	require.NoError(t, err)

	require.NoError(t, cat.DropTable("A"))
}

func TestCreateTableAlreadyExists(t *testing.T) {
	cat := openCatalog(t)
	s := NewSchema("t", []Column{{Name: "a", Type: TypeInt64}}, "a", false, nil)
	_, err := cat.CreateTable(s)
	require.NoError(t, err)

	_, err = cat.CreateTable(s)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDropTableNotFound(t *testing.T) {
	cat := openCatalog(t)
	err := cat.DropTable("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAndDeleteReturnPriorValues(t *testing.T) {
	cat := openCatalog(t)
	s := NewSchema("t", []Column{
		{Name: "a", Type: TypeInt64},
		{Name: "b", Type: TypeFloat64},
	}, "a", false, nil)
	tbl, err := cat.CreateTable(s)
	require.NoError(t, err)

	key, err := tbl.Insert([]any{int64(1), float64(1.0)})
	require.NoError(t, err)

	prior, err := tbl.Update(key, []any{int64(1), float64(9.0)})
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), float64(1.0)}, prior)

	row, ok, err := tbl.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{int64(1), float64(9.0)}, row)

	prior, err = tbl.Delete(key)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), float64(9.0)}, prior)

	_, ok, err = tbl.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}
