package blob

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/page"
)

func openManager(t *testing.T) *page.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := page.Open(filepath.Join(dir, "db.pages"), true, 32)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestWriteReadSmallValue(t *testing.T) {
	pm := openManager(t)
	id, err := Write(pm, []byte("hello world"))
	require.NoError(t, err)

	got, err := Read(pm, id)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestWriteReadMultiPageChain(t *testing.T) {
	pm := openManager(t)
	data := bytes.Repeat([]byte("abcdefgh"), page.Size) // several pages' worth
	id, err := Write(pm, data)
	require.NoError(t, err)

	got, err := Read(pm, id)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRewriteShrinksAndGrows(t *testing.T) {
	pm := openManager(t)
	big := bytes.Repeat([]byte("x"), page.Size*3)
	id, err := Write(pm, big)
	require.NoError(t, err)

	id2, err := Rewrite(pm, id, []byte("small"))
	require.NoError(t, err)

	got, err := Read(pm, id2)
	require.NoError(t, err)
	require.Equal(t, "small", string(got))
}

func TestDestroyFreesAllPages(t *testing.T) {
	pm := openManager(t)
	before := pm.PageCount()
	data := bytes.Repeat([]byte("y"), page.Size*4)
	id, err := Write(pm, data)
	require.NoError(t, err)
	require.Greater(t, pm.PageCount(), before)

	require.NoError(t, Destroy(pm, id))
	require.NoError(t, pm.ShrinkToFit())
	require.Equal(t, before, pm.PageCount())
}

func TestEmptyValue(t *testing.T) {
	pm := openManager(t)
	id, err := Write(pm, nil)
	require.NoError(t, err)
	got, err := Read(pm, id)
	require.NoError(t, err)
	require.Empty(t, got)
}
