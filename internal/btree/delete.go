package btree

func (t *Tree) deleteAt(pgid uint32, level int, key []byte) (bool, error) {
	if level == 1 {
		return t.deleteLeaf(pgid, key)
	}

	h, err := t.pm.GetSorted(pgid)
	if err != nil {
		return false, err
	}
	inner := newInnerNode(h.Bytes(), t.kind)
	idx, childPgid := inner.ChildForKey(key)

	found, err := t.deleteAt(childPgid, level-1, key)
	if err != nil || !found {
		h.Release(false)
		return found, err
	}

	changed := false
	if level-1 == 1 {
		var rerr error
		changed, rerr = t.rebalanceLeafChild(inner, idx, childPgid)
		if rerr != nil {
			h.Release(false)
			return true, rerr
		}
	}
	h.Release(changed)
	return true, nil
}

func (t *Tree) deleteLeaf(pgid uint32, key []byte) (bool, error) {
	h, err := t.pm.GetSorted(pgid)
	if err != nil {
		return false, err
	}
	leaf := newLeafNode(h.Bytes(), t.kind)
	idx, found := leaf.Find(key)
	if !found {
		h.Release(false)
		return false, nil
	}
	ents := leaf.ReadAll()
	ents = append(ents[:idx:idx], ents[idx+1:]...)
	leaf.WriteAll(ents)
	h.MarkDirty()
	h.Release(true)
	return true, nil
}

const minFillNumerator, minFillDenominator = 1, 2

func leafUnderfull(ents []leafEntry) bool {
	return leafEntriesSize(ents)*minFillDenominator < leafCapacity()*minFillNumerator
}

// rebalanceLeafChild checks whether the leaf at childPgid (slot idx of
// inner, where idx == inner.NumSlots() means childPgid is the rightmost
// pointer) is underfull, and if so merges it with a sibling or borrows one
// entry by redistribution. Only non-root leaves are ever checked; a leaf
// root is allowed to be arbitrarily small. Rebalancing does not cascade
// into inner-node merges: a non-root inner node that ends up with very few
// children is left as-is, trading some space efficiency for a much simpler
// delete path while preserving full correctness of lookups and iteration.
// Under a heavy-delete workload this means inner pages can stay sparse
// indefinitely, keeping the tree taller and the file larger than a fully
// rebalancing delete would; inner-node merge/redistribute is the known
// followup if that bloat ever matters.
func (t *Tree) rebalanceLeafChild(inner *innerNode, idx int, childPgid uint32) (bool, error) {
	ch, err := t.pm.GetSorted(childPgid)
	if err != nil {
		return false, err
	}
	child := newLeafNode(ch.Bytes(), t.kind)
	childEnts := child.ReadAll()
	if !leafUnderfull(childEnts) {
		ch.Release(false)
		return false, nil
	}

	ents := inner.ReadAll()
	hasLeft := idx > 0
	hasRight := idx < len(ents)-1

	if !hasLeft && !hasRight {
		ch.Release(false)
		return false, nil // only child of the tree; nothing to balance against
	}

	if hasLeft {
		leftPgid := ents[idx-1].child
		lh, err := t.pm.GetSorted(leftPgid)
		if err != nil {
			ch.Release(false)
			return false, err
		}
		left := newLeafNode(lh.Bytes(), t.kind)
		leftEnts := left.ReadAll()
		combined := append(append([]leafEntry(nil), leftEnts...), childEnts...)

		if leafEntriesSize(combined) <= leafCapacity() {
			// Merge into the left page; free the child page.
			left.WriteAll(combined)
			left.SetNextLeaf(child.NextLeaf())
			if next := child.NextLeaf(); next != 0 {
				nh, err := t.pm.GetSorted(next)
				if err == nil {
					nn := newLeafNode(nh.Bytes(), t.kind)
					nn.SetPrevLeaf(leftPgid)
					nh.MarkDirty()
					nh.Release(true)
				}
			}
			lh.MarkDirty()
			lh.Release(true)
			ch.Release(false)
			t.pm.Free(childPgid)

			newEnts := append(append([]innerEntry(nil), ents[:idx-1]...), innerEntry{sep: ents[idx].sep, child: leftPgid})
			newEnts = append(newEnts, ents[idx+1:]...)
			inner.WriteAll(newEnts)
			return true, nil
		}

		mid := adjustLeafSplit(combined)
		leftNew, childNew := combined[:mid], combined[mid:]
		left.WriteAll(leftNew)
		child.WriteAll(childNew)
		lh.MarkDirty()
		lh.Release(true)
		ch.MarkDirty()
		ch.Release(true)

		newEnts := append([]innerEntry(nil), ents...)
		newEnts[idx-1].sep = append([]byte(nil), childNew[0].key...)
		inner.WriteAll(newEnts)
		return true, nil
	}

	// Borrow/merge with the right sibling.
	rightPgid := ents[idx+1].child
	rh, err := t.pm.GetSorted(rightPgid)
	if err != nil {
		ch.Release(false)
		return false, err
	}
	right := newLeafNode(rh.Bytes(), t.kind)
	rightEnts := right.ReadAll()
	combined := append(append([]leafEntry(nil), childEnts...), rightEnts...)

	if leafEntriesSize(combined) <= leafCapacity() {
		child.WriteAll(combined)
		child.SetNextLeaf(right.NextLeaf())
		if next := right.NextLeaf(); next != 0 {
			nh, err := t.pm.GetSorted(next)
			if err == nil {
				nn := newLeafNode(nh.Bytes(), t.kind)
				nn.SetPrevLeaf(childPgid)
				nh.MarkDirty()
				nh.Release(true)
			}
		}
		ch.MarkDirty()
		ch.Release(true)
		rh.Release(false)
		t.pm.Free(rightPgid)

		newEnts := append(append([]innerEntry(nil), ents[:idx]...), innerEntry{sep: ents[idx+1].sep, child: childPgid})
		newEnts = append(newEnts, ents[idx+2:]...)
		inner.WriteAll(newEnts)
		return true, nil
	}

	mid := adjustLeafSplit(combined)
	childNew, rightNew := combined[:mid], combined[mid:]
	child.WriteAll(childNew)
	right.WriteAll(rightNew)
	ch.MarkDirty()
	ch.Release(true)
	rh.MarkDirty()
	rh.Release(true)

	newEnts := append([]innerEntry(nil), ents...)
	newEnts[idx].sep = append([]byte(nil), rightNew[0].key...)
	inner.WriteAll(newEnts)
	return true, nil
}
