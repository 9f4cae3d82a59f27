package btree

import (
	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/spage"
)

const (
	leafSpecialSize  = 8 // prev_leaf_pgid:u32, next_leaf_pgid:u32
	innerSpecialSize = 4 // rightmost_child_pgid:u32

	offPrevLeaf = 0
	offNextLeaf = 4

	offRightmostChild = 0
)

// leafEntry is one (key, value) pair materialized out of a leaf page.
type leafEntry struct {
	key   []byte
	value []byte
}

// innerEntry is one (separator, child) pair materialized out of an inner
// page. The last entry in a ReadAll() result always carries sep == nil and
// child == the special-region rightmost-child pointer.
type innerEntry struct {
	sep   []byte
	child uint32
}

func leafCmp(kind CompareKind) spage.Cmp {
	return func(slot, key []byte) int {
		return Compare(kind, decodeLeafKeyBytes(slot), key)
	}
}

func innerCmp(kind CompareKind) spage.Cmp {
	return func(slot, key []byte) int {
		return Compare(kind, decodeInnerSepBytes(slot), key)
	}
}

// --- leaf slot encoding: key_len:u16, key, value ---

func encodeLeafSlot(key, value []byte) []byte {
	out := make([]byte, 2+len(key)+len(value))
	putU16(out, 0, uint16(len(key)))
	copy(out[2:], key)
	copy(out[2+len(key):], value)
	return out
}

func decodeLeafKeyBytes(slot []byte) []byte {
	kl := int(getU16(slot, 0))
	return slot[2 : 2+kl]
}

func decodeLeafSlot(slot []byte) (key, value []byte) {
	kl := int(getU16(slot, 0))
	key = slot[2 : 2+kl]
	value = slot[2+kl:]
	return
}

// --- inner slot encoding: child_pgid:u32, separator bytes ---

func encodeInnerSlot(child uint32, sep []byte) []byte {
	out := make([]byte, 4+len(sep))
	putU32b(out, 0, child)
	copy(out[4:], sep)
	return out
}

func decodeInnerSepBytes(slot []byte) []byte { return slot[4:] }

func decodeInnerSlot(slot []byte) (child uint32, sep []byte) {
	return getU32b(slot, 0), slot[4:]
}

// leafNode is a typed view of a SortedPage formatted as a B+Tree leaf.
type leafNode struct {
	sp   *spage.SortedPage
	kind CompareKind
}

func newLeafNode(buf []byte, kind CompareKind) *leafNode {
	return &leafNode{sp: spage.New(buf, leafCmp(kind)), kind: kind}
}

func (n *leafNode) Init() { n.sp.Init(leafSpecialSize) }

func (n *leafNode) PrevLeaf() uint32 { return getU32b(n.sp.ReadSpecial(offPrevLeaf, 4), 0) }
func (n *leafNode) NextLeaf() uint32 { return getU32b(n.sp.ReadSpecial(offNextLeaf, 4), 0) }

func (n *leafNode) SetPrevLeaf(id uint32) {
	var b [4]byte
	putU32b(b[:], 0, id)
	n.sp.WriteSpecial(offPrevLeaf, b[:])
}

func (n *leafNode) SetNextLeaf(id uint32) {
	var b [4]byte
	putU32b(b[:], 0, id)
	n.sp.WriteSpecial(offNextLeaf, b[:])
}

func (n *leafNode) NumSlots() int { return n.sp.SlotNum() }

func (n *leafNode) EntryAt(i int) leafEntry {
	key, value := decodeLeafSlot(n.sp.Slot(i))
	return leafEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
}

func (n *leafNode) ReadAll() []leafEntry {
	out := make([]leafEntry, n.sp.SlotNum())
	for i := range out {
		out[i] = n.EntryAt(i)
	}
	return out
}

// WriteAll rewrites the slot area with ents, preserving the special region.
func (n *leafNode) WriteAll(ents []leafEntry) {
	n.sp.Init(leafSpecialSize)
	for _, e := range ents {
		n.sp.AppendUnchecked(encodeLeafSlot(e.key, e.value))
	}
}

func (n *leafNode) Find(key []byte) (int, bool) { return n.sp.Find(key) }

func leafEntriesSize(ents []leafEntry) int {
	size := 0
	for _, e := range ents {
		size += 2 + len(e.key) + len(e.value) + 2 // +2 for the starts[] entry
	}
	return size
}

func leafCapacity() int {
	return page.Size - 4 - leafSpecialSize
}

// --- inner node ---

type innerNode struct {
	sp   *spage.SortedPage
	kind CompareKind
}

func newInnerNode(buf []byte, kind CompareKind) *innerNode {
	return &innerNode{sp: spage.New(buf, innerCmp(kind)), kind: kind}
}

func (n *innerNode) Init() { n.sp.Init(innerSpecialSize) }

func (n *innerNode) RightmostChild() uint32 { return getU32b(n.sp.ReadSpecial(offRightmostChild, 4), 0) }

func (n *innerNode) SetRightmostChild(id uint32) {
	var b [4]byte
	putU32b(b[:], 0, id)
	n.sp.WriteSpecial(offRightmostChild, b[:])
}

func (n *innerNode) NumSlots() int { return n.sp.SlotNum() }

func (n *innerNode) SlotAt(i int) (child uint32, sep []byte) {
	c, s := decodeInnerSlot(n.sp.Slot(i))
	return c, append([]byte(nil), s...)
}

// ChildForKey returns the index of the first separator strictly greater
// than key, and the child pgid that subtree descent should follow. An idx
// equal to NumSlots() means the rightmost child was chosen.
func (n *innerNode) ChildForKey(key []byte) (idx int, child uint32) {
	idx = n.sp.UpperBound(key)
	if idx == n.sp.SlotNum() {
		return idx, n.RightmostChild()
	}
	c, _ := decodeInnerSlot(n.sp.Slot(idx))
	return idx, c
}

// ReadAll returns the n+1 children of this node as innerEntry values: the
// first n carry (sep, child) pairs from the slot array; the last carries
// (nil, rightmostChild).
func (n *innerNode) ReadAll() []innerEntry {
	num := n.sp.SlotNum()
	out := make([]innerEntry, num+1)
	for i := 0; i < num; i++ {
		c, s := decodeInnerSlot(n.sp.Slot(i))
		out[i] = innerEntry{sep: append([]byte(nil), s...), child: c}
	}
	out[num] = innerEntry{sep: nil, child: n.RightmostChild()}
	return out
}

// WriteAll writes ents (n+1 children as produced by ReadAll) back: all but
// the last become (child, sep) slots in order, and the last entry's child
// becomes the rightmost pointer.
func (n *innerNode) WriteAll(ents []innerEntry) {
	n.sp.Init(innerSpecialSize)
	last := len(ents) - 1
	for i := 0; i < last; i++ {
		n.sp.AppendUnchecked(encodeInnerSlot(ents[i].child, ents[i].sep))
	}
	n.SetRightmostChild(ents[last].child)
}

func innerEntriesSize(ents []innerEntry) int {
	size := 0
	for i := 0; i < len(ents)-1; i++ {
		size += 4 + len(ents[i].sep) + 2
	}
	return size
}

func innerCapacity() int {
	return page.Size - 4 - innerSpecialSize
}

func getU32b(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

func putU32b(b []byte, off int, v uint32) {
	b[off] = byte(v >> 24)
	b[off+1] = byte(v >> 16)
	b[off+2] = byte(v >> 8)
	b[off+3] = byte(v)
}

func getU16(b []byte, off int) uint16 { return uint16(b[off])<<8 | uint16(b[off+1]) }
func putU16(b []byte, off int, v uint16) {
	b[off] = byte(v >> 8)
	b[off+1] = byte(v)
}
