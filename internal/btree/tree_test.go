package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/page"
)

func openManager(t *testing.T) *page.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := page.Open(filepath.Join(dir, "db.pages"), true, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTreeInsertGetRoundTrip(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)

	for i := int64(0); i < 500; i++ {
		require.NoError(t, tr.Insert(EncodeIntKey(i), []byte(fmt.Sprintf("value-%d", i))))
	}
	require.Equal(t, uint64(500), tr.TupleNum())

	for i := int64(0); i < 500; i++ {
		v, ok, err := tr.Get(EncodeIntKey(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}

	_, ok, err := tr.Get(EncodeIntKey(999))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTreeInsertOutOfOrderAndDuplicateRejected(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)

	order := []int64{50, 10, 90, 30, 70, 20, 80, 40, 60, 0}
	for _, k := range order {
		require.NoError(t, tr.Insert(EncodeIntKey(k), []byte("v")))
	}
	require.ErrorIs(t, tr.Insert(EncodeIntKey(10), []byte("v2")), ErrKeyExists)

	it, err := tr.NewIterator(nil)
	require.NoError(t, err)
	var got []int64
	for it.Valid() {
		got = append(got, DecodeIntKey(it.Key()))
		_, err := it.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []int64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, got)
}

func TestTreeUpdateAndTake(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(EncodeIntKey(1), []byte("a")))

	require.NoError(t, tr.Update(EncodeIntKey(1), []byte("b")))
	v, ok, err := tr.Get(EncodeIntKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(v))

	require.ErrorIs(t, tr.Update(EncodeIntKey(2), []byte("x")), ErrKeyNotFound)

	taken, ok, err := tr.Take(EncodeIntKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(taken))
	_, ok, err = tr.Get(EncodeIntKey(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTreeDeleteManyKeepsOrderAndCount(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)

	const n = 300
	for i := int64(0); i < n; i++ {
		require.NoError(t, tr.Insert(EncodeIntKey(i), []byte(fmt.Sprintf("v%d", i))))
	}
	for i := int64(0); i < n; i += 2 {
		found, err := tr.Delete(EncodeIntKey(i))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, uint64(n/2), tr.TupleNum())

	found, err := tr.Delete(EncodeIntKey(0))
	require.NoError(t, err)
	require.False(t, found)

	it, err := tr.NewIterator(nil)
	require.NoError(t, err)
	count := 0
	for it.Valid() {
		k := DecodeIntKey(it.Key())
		require.Equal(t, int64(1), k%2)
		count++
		_, err := it.Next()
		require.NoError(t, err)
	}
	require.Equal(t, n/2, count)
}

func TestTreeMaxKey(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)

	_, ok, err := tr.MaxKey()
	require.NoError(t, err)
	require.False(t, ok)

	for _, k := range []int64{5, 1, 9, 3} {
		require.NoError(t, tr.Insert(EncodeIntKey(k), []byte("v")))
	}
	mk, ok, err := tr.MaxKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), DecodeIntKey(mk))
}

func TestTreeLowerAndUpperBound(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)
	for _, k := range []int64{10, 20, 30} {
		require.NoError(t, tr.Insert(EncodeIntKey(k), []byte("v")))
	}

	lb, err := tr.LowerBound(EncodeIntKey(20))
	require.NoError(t, err)
	require.True(t, lb.Valid())
	require.Equal(t, int64(20), DecodeIntKey(lb.Key()))

	ub, err := tr.UpperBound(EncodeIntKey(20))
	require.NoError(t, err)
	require.True(t, ub.Valid())
	require.Equal(t, int64(30), DecodeIntKey(ub.Key()))

	ubEnd, err := tr.UpperBound(EncodeIntKey(30))
	require.NoError(t, err)
	require.False(t, ubEnd.Valid())

	begin, err := tr.Begin()
	require.NoError(t, err)
	require.Equal(t, int64(10), DecodeIntKey(begin.Key()))
}

func TestTreeIteratorSeeksMidRange(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		require.NoError(t, tr.Insert(EncodeIntKey(i), []byte("v")))
	}

	it, err := tr.NewIterator(EncodeIntKey(50))
	require.NoError(t, err)
	require.True(t, it.Valid())
	require.Equal(t, int64(50), DecodeIntKey(it.Key()))
}

func TestTreeReopenPreservesContents(t *testing.T) {
	dir := t.TempDir()
	pm, err := page.Open(filepath.Join(dir, "db.pages"), true, 64)
	require.NoError(t, err)

	tr, err := Create(pm, StringKeyCompare)
	require.NoError(t, err)
	for _, k := range []string{"apple", "banana", "cherry"} {
		require.NoError(t, tr.Insert([]byte(k), []byte("fruit:"+k)))
	}
	metaPgid := tr.MetaPgid()
	require.NoError(t, pm.Close())

	pm2, err := page.Open(filepath.Join(dir, "db.pages"), false, 64)
	require.NoError(t, err)
	defer pm2.Close()

	tr2, err := Open(pm2, metaPgid, StringKeyCompare)
	require.NoError(t, err)
	require.Equal(t, uint64(3), tr2.TupleNum())
	v, ok, err := tr2.Get([]byte("banana"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fruit:banana", string(v))
}

func TestTreeDestroyFreesPages(t *testing.T) {
	pm := openManager(t)
	tr, err := Create(pm, IntegerKeyCompare)
	require.NoError(t, err)
	for i := int64(0); i < 200; i++ {
		require.NoError(t, tr.Insert(EncodeIntKey(i), []byte("v")))
	}
	before := pm.PageCount()
	require.NoError(t, tr.Destroy())
	require.NoError(t, pm.ShrinkToFit())
	require.Less(t, pm.PageCount(), before)
}
