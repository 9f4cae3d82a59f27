package btree

// Iterator walks leaf entries in key order starting from a given lower
// bound, following sibling pointers across leaf pages. It holds no page
// pinned between Next() calls.
type Iterator struct {
	t    *Tree
	leaf uint32
	pos  int
	ents []leafEntry
	done bool
}

// NewIterator returns an iterator positioned at the first key >= startKey.
// A nil startKey starts at the smallest key in the tree.
func (t *Tree) NewIterator(startKey []byte) (*Iterator, error) {
	it := &Iterator{t: t}
	t.mu.Lock()
	err := it.seek(startKey)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Begin returns an iterator at the smallest key.
func (t *Tree) Begin() (*Iterator, error) { return t.NewIterator(nil) }

// LowerBound returns an iterator at the first key >= key.
func (t *Tree) LowerBound(key []byte) (*Iterator, error) { return t.NewIterator(key) }

// UpperBound returns an iterator at the first key > key.
func (t *Tree) UpperBound(key []byte) (*Iterator, error) {
	it, err := t.NewIterator(key)
	if err != nil {
		return nil, err
	}
	for it.Valid() && Compare(t.kind, it.Key(), key) == 0 {
		if _, err := it.Next(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) seek(startKey []byte) error {
	pgid := it.t.rootPgid
	level := it.t.level
	for level > 1 {
		h, err := it.t.pm.GetSorted(pgid)
		if err != nil {
			return err
		}
		inner := newInnerNode(h.Bytes(), it.t.kind)
		var child uint32
		if startKey == nil {
			child = leftmostChild(inner)
		} else {
			_, child = inner.ChildForKey(startKey)
		}
		h.Release(false)
		pgid = child
		level--
	}

	h, err := it.t.pm.GetSorted(pgid)
	if err != nil {
		return err
	}
	leaf := newLeafNode(h.Bytes(), it.t.kind)
	ents := leaf.ReadAll()
	next := leaf.NextLeaf()
	h.Release(false)

	pos := 0
	if startKey != nil {
		for pos < len(ents) && Compare(it.t.kind, ents[pos].key, startKey) < 0 {
			pos++
		}
	}

	it.leaf = pgid
	it.ents = ents
	it.pos = pos
	if pos >= len(ents) {
		return it.advanceLeaf(next)
	}
	return nil
}

func leftmostChild(inner *innerNode) uint32 {
	if inner.NumSlots() == 0 {
		return inner.RightmostChild()
	}
	c, _ := inner.SlotAt(0)
	return c
}

// advanceLeaf loads the next leaf page (or marks the iterator done) when
// the current page is exhausted.
func (it *Iterator) advanceLeaf(next uint32) error {
	for next != 0 {
		h, err := it.t.pm.GetSorted(next)
		if err != nil {
			return err
		}
		leaf := newLeafNode(h.Bytes(), it.t.kind)
		ents := leaf.ReadAll()
		nextNext := leaf.NextLeaf()
		h.Release(false)

		if len(ents) > 0 {
			it.leaf = next
			it.ents = ents
			it.pos = 0
			return nil
		}
		next = nextNext
	}
	it.done = true
	return nil
}

// Valid reports whether Key()/Value() can be called.
func (it *Iterator) Valid() bool { return !it.done && it.pos < len(it.ents) }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.ents[it.pos].key }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.ents[it.pos].value }

// Next advances to the following entry, returning false once exhausted.
func (it *Iterator) Next() (bool, error) {
	if it.done {
		return false, nil
	}
	it.pos++
	if it.pos < len(it.ents) {
		return true, nil
	}

	it.t.mu.Lock()
	defer it.t.mu.Unlock()

	h, err := it.t.pm.GetSorted(it.leaf)
	if err != nil {
		return false, err
	}
	leaf := newLeafNode(h.Bytes(), it.t.kind)
	next := leaf.NextLeaf()
	h.Release(false)

	if err := it.advanceLeaf(next); err != nil {
		return false, err
	}
	return it.Valid(), nil
}
