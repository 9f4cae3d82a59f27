// Package btree implements the ordered key-value index used for every
// table's primary data and its catalog. A Tree is a classic B+Tree: all
// tuples live in leaf pages threaded into a doubly linked list for range
// scans, inner pages hold only routing separators, and every mutation
// rebuilds the touched page(s) from a materialized entry list rather than
// shuffling bytes in place, the same approach internal/spage itself uses
// for single-page splits.
//
// Key comparison is dispatched through a CompareKind enum fixed at tree
// creation rather than a generic type parameter, since the comparator a
// table needs is only known once its primary-key column type is read out
// of the catalog at open time.
package btree

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/spage"
)

var (
	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = errors.New("btree: key already exists")
	// ErrKeyNotFound is returned by Update when the key is absent; Get,
	// Delete and Take report absence through their bool result instead.
	ErrKeyNotFound = errors.New("btree: key not found")
)

const (
	metaOffLevel    = 0
	metaOffRootPgid = 4
	metaOffTupleNum = 8
)

// Tree is an ordered map from byte-string keys to byte-string values,
// persisted as a chain of pages through a page.Manager. All operations on
// one tree are serialized by mu; the tree is not independently re-entrant
// and relies on the caller's lock manager only for cross-statement
// isolation, not for its own structural integrity.
type Tree struct {
	pm       *page.Manager
	kind     CompareKind
	metaPgid uint32

	mu       sync.Mutex
	rootPgid uint32
	level    uint8 // 1 == root is a leaf
	tupleNum uint64
}

// Create allocates a brand-new empty tree (a one-page root leaf plus a meta
// page) and returns it. MetaPgid() gives the id a caller should persist
// (e.g. in a catalog row) to reopen it later via Open.
func Create(pm *page.Manager, kind CompareKind) (*Tree, error) {
	metaH, err := pm.AllocPlain()
	if err != nil {
		return nil, err
	}
	defer metaH.Release(true)

	rootH, err := pm.AllocSorted()
	if err != nil {
		return nil, err
	}
	leaf := newLeafNode(rootH.Bytes(), kind)
	leaf.Init()
	rootH.MarkDirty()
	rootH.Release(true)

	t := &Tree{pm: pm, kind: kind, metaPgid: metaH.ID(), rootPgid: rootH.ID(), level: 1, tupleNum: 0}
	t.writeMeta(metaH)
	return t, nil
}

// CreateAt formats a brand-new empty tree whose meta page is a
// caller-supplied, already-allocated page id (used for the table catalog,
// which is rooted at the page manager's reserved super page rather than a
// freshly allocated one).
func CreateAt(pm *page.Manager, metaPgid uint32, kind CompareKind) (*Tree, error) {
	rootH, err := pm.AllocSorted()
	if err != nil {
		return nil, err
	}
	leaf := newLeafNode(rootH.Bytes(), kind)
	leaf.Init()
	rootH.MarkDirty()
	rootH.Release(true)

	t := &Tree{pm: pm, kind: kind, metaPgid: metaPgid, rootPgid: rootH.ID(), level: 1, tupleNum: 0}
	metaH, err := pm.GetPlain(metaPgid)
	if err != nil {
		return nil, err
	}
	t.writeMeta(metaH)
	metaH.Release(true)
	return t, nil
}

// Open reopens a tree whose meta page id was previously returned by
// Create's MetaPgid().
func Open(pm *page.Manager, metaPgid uint32, kind CompareKind) (*Tree, error) {
	h, err := pm.GetPlain(metaPgid)
	if err != nil {
		return nil, err
	}
	pp := spage.NewPlain(h.Bytes())
	level := pp.Read(metaOffLevel, 1)[0]
	root := pp.GetU32(metaOffRootPgid)
	tupleNum := pp.GetU64(metaOffTupleNum)
	h.Release(false)

	return &Tree{pm: pm, kind: kind, metaPgid: metaPgid, rootPgid: root, level: level, tupleNum: tupleNum}, nil
}

func (t *Tree) writeMeta(h *page.Handle) {
	pp := spage.NewPlain(h.Bytes())
	pp.Write(metaOffLevel, []byte{t.level})
	pp.PutU32(metaOffRootPgid, t.rootPgid)
	pp.PutU64(metaOffTupleNum, t.tupleNum)
	h.MarkDirty()
}

func (t *Tree) flushMeta() {
	h, err := t.pm.GetPlain(t.metaPgid)
	if err != nil {
		panic(err) // meta page is always resident; a failure here is an I/O fault
	}
	t.writeMeta(h)
	h.Release(true)
}

// MetaPgid returns the page id to persist for a later Open.
func (t *Tree) MetaPgid() uint32 { return t.metaPgid }

// TupleNum returns the number of key-value pairs currently stored.
func (t *Tree) TupleNum() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tupleNum
}

// Get looks up key and returns a copy of its value.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(key)
}

func (t *Tree) get(key []byte) ([]byte, bool, error) {
	pgid := t.rootPgid
	level := t.level
	for level > 1 {
		h, err := t.pm.GetSorted(pgid)
		if err != nil {
			return nil, false, err
		}
		inner := newInnerNode(h.Bytes(), t.kind)
		_, child := inner.ChildForKey(key)
		h.Release(false)
		pgid = child
		level--
	}

	h, err := t.pm.GetSorted(pgid)
	if err != nil {
		return nil, false, err
	}
	defer h.Release(false)
	leaf := newLeafNode(h.Bytes(), t.kind)
	i, ok := leaf.Find(key)
	if !ok {
		return nil, false, nil
	}
	e := leaf.EntryAt(i)
	return e.value, true, nil
}

// Insert adds (key, value); it does not overwrite an existing key.
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, err := t.insertAt(t.rootPgid, int(t.level), key, value)
	if err != nil {
		return err
	}
	if res.existed {
		return ErrKeyExists
	}
	if res.split {
		rootH, err := t.pm.AllocSorted()
		if err != nil {
			return err
		}
		root := newInnerNode(rootH.Bytes(), t.kind)
		root.Init()
		root.WriteAll([]innerEntry{
			{sep: res.sep, child: t.rootPgid},
			{sep: nil, child: res.rightPgid},
		})
		rootH.MarkDirty()
		rootH.Release(true)
		t.rootPgid = rootH.ID()
		t.level++
	}
	t.tupleNum++
	t.flushMeta()
	slog.Debug("btree.Insert", "tupleNum", t.tupleNum, "level", t.level)
	return nil
}

// Update overwrites the value stored for an existing key.
func (t *Tree) Update(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, err := t.updateAt(t.rootPgid, int(t.level), key, value)
	if err != nil {
		return err
	}
	if res.existed {
		return ErrKeyNotFound
	}
	if res.split {
		rootH, err := t.pm.AllocSorted()
		if err != nil {
			return err
		}
		root := newInnerNode(rootH.Bytes(), t.kind)
		root.Init()
		root.WriteAll([]innerEntry{
			{sep: res.sep, child: t.rootPgid},
			{sep: nil, child: res.rightPgid},
		})
		rootH.MarkDirty()
		rootH.Release(true)
		t.rootPgid = rootH.ID()
		t.level++
		t.flushMeta()
	}
	return nil
}

// Delete removes key if present, returning whether it was found.
func (t *Tree) Delete(key []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delete(key)
}

func (t *Tree) delete(key []byte) (bool, error) {
	found, err := t.deleteAt(t.rootPgid, int(t.level), key)
	if err != nil || !found {
		return found, err
	}
	t.tupleNum--

	if t.level > 1 {
		h, err := t.pm.GetSorted(t.rootPgid)
		if err != nil {
			return true, err
		}
		root := newInnerNode(h.Bytes(), t.kind)
		if root.NumSlots() == 0 {
			// Root collapsed to a single child: promote it.
			onlyChild := root.RightmostChild()
			h.Release(false)
			t.pm.Free(t.rootPgid)
			t.rootPgid = onlyChild
			t.level--
		} else {
			h.Release(false)
		}
	}
	t.flushMeta()
	return true, nil
}

// Take atomically fetches and deletes the value for key.
func (t *Tree) Take(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok, err := t.get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if _, err := t.delete(key); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// MaxKey returns the largest key in the tree.
func (t *Tree) MaxKey() ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tupleNum == 0 {
		return nil, false, nil
	}
	pgid := t.rootPgid
	level := t.level
	for level > 1 {
		h, err := t.pm.GetSorted(pgid)
		if err != nil {
			return nil, false, err
		}
		inner := newInnerNode(h.Bytes(), t.kind)
		pgid = inner.RightmostChild()
		h.Release(false)
		level--
	}
	h, err := t.pm.GetSorted(pgid)
	if err != nil {
		return nil, false, err
	}
	defer h.Release(false)
	leaf := newLeafNode(h.Bytes(), t.kind)
	if leaf.NumSlots() == 0 {
		return nil, false, nil
	}
	e := leaf.EntryAt(leaf.NumSlots() - 1)
	return e.key, true, nil
}

// Destroy frees every page owned by the tree, including its meta page.
func (t *Tree) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.destroySubtree(t.rootPgid, int(t.level)); err != nil {
		return err
	}
	t.pm.Free(t.metaPgid)
	return nil
}

func (t *Tree) destroySubtree(pgid uint32, level int) error {
	if level == 1 {
		t.pm.Free(pgid)
		return nil
	}
	h, err := t.pm.GetSorted(pgid)
	if err != nil {
		return err
	}
	inner := newInnerNode(h.Bytes(), t.kind)
	ents := inner.ReadAll()
	h.Release(false)
	for _, e := range ents {
		if err := t.destroySubtree(e.child, level-1); err != nil {
			return err
		}
	}
	t.pm.Free(pgid)
	return nil
}
