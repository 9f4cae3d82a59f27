// Package spage implements the slotted-page primitives that sit directly
// on top of a raw 4096-byte page buffer: SortedPage, an ordered
// variable-length-slot page used for B+Tree inner/leaf nodes, and
// PlainPage, a thin raw-byte accessor used for meta pages and blob bodies.
//
// Neither type owns the underlying buffer or any pin/dirty bookkeeping;
// that is internal/page's job. A SortedPage/PlainPage is a view over bytes
// handed to it by a page.Handle.
package spage

import "sort"

const (
	offNSlots     = 0
	offSpecialEnd = 2
	offStartsBase = 4
	slotPtrSize   = 2 // each entry in the starts[] array is 2 bytes
)

// Cmp compares a stored slot's bytes against a lookup key. Ordering follows
// the usual three-way convention: negative if slot < key, zero if equal,
// positive if slot > key.
type Cmp func(slot []byte, key []byte) int

// SortedPage is a slotted page supporting ordered variable-length slots.
// Layout: n_slots:u16 @0, special_end:u16 @2, then starts[0..n]:u16. Slots
// grow down from the high end; a fixed special region occupies the top of
// the page above special_end.
type SortedPage struct {
	buf []byte // exactly page.Size bytes
	cmp Cmp
}

// New wraps buf (which must be page.Size bytes) as a SortedPage using cmp
// for key comparisons. It does not initialize the page; call Init on a
// freshly allocated page first.
func New(buf []byte, cmp Cmp) *SortedPage {
	return &SortedPage{buf: buf, cmp: cmp}
}

// Init formats a freshly allocated page with zero slots and the given
// special-region size (reserved at the high end of the page).
func (p *SortedPage) Init(specialSize int) {
	putU16(p.buf, offNSlots, 0)
	putU16(p.buf, offSpecialEnd, uint16(len(p.buf)-specialSize))
}

func (p *SortedPage) SlotNum() int { return int(getU16(p.buf, offNSlots)) }

func (p *SortedPage) specialEnd() int { return int(getU16(p.buf, offSpecialEnd)) }

func (p *SortedPage) startsOff(i int) int { return offStartsBase + i*slotPtrSize }

func (p *SortedPage) start(i int) int { return int(getU16(p.buf, p.startsOff(i))) }

// slotEnd returns the end offset (exclusive) of slot i: the start of the
// previous slot in storage order, or special_end for the last (lowest)
// slot physically, i.e. slot n-1.
func (p *SortedPage) slotEnd(i int) int {
	if i == 0 {
		return p.specialEnd()
	}
	return p.start(i - 1)
}

// Slot returns the raw bytes of slot i.
func (p *SortedPage) Slot(i int) []byte {
	n := p.SlotNum()
	if i < 0 || i >= n {
		return nil
	}
	return p.buf[p.start(i):p.slotEnd(i)]
}

func (p *SortedPage) IsEmpty() bool { return p.SlotNum() == 0 }

// FreeSpace returns the number of bytes available between the end of the
// starts[] array and the start of the lowest (last-index) slot.
func (p *SortedPage) FreeSpace() int {
	n := p.SlotNum()
	startsEnd := p.startsOff(n)
	var lowestSlotStart int
	if n == 0 {
		lowestSlotStart = p.specialEnd()
	} else {
		lowestSlotStart = p.start(n - 1)
	}
	return lowestSlotStart - startsEnd
}

// lowerBoundIdx returns the index of the first slot >= key (binary search
// over the starts[] array), or SlotNum() if none.
func (p *SortedPage) lowerBoundIdx(key []byte) int {
	n := p.SlotNum()
	return sort.Search(n, func(i int) bool {
		return p.cmp(p.Slot(i), key) >= 0
	})
}

// LowerBound returns the index of the first slot whose key is >= key.
func (p *SortedPage) LowerBound(key []byte) int { return p.lowerBoundIdx(key) }

// UpperBound returns the index of the first slot whose key is > key.
func (p *SortedPage) UpperBound(key []byte) int {
	n := p.SlotNum()
	return sort.Search(n, func(i int) bool {
		return p.cmp(p.Slot(i), key) > 0
	})
}

// Find returns the index of a slot comparing equal to key, and whether one
// was found.
func (p *SortedPage) Find(key []byte) (int, bool) {
	i := p.lowerBoundIdx(key)
	if i < p.SlotNum() && p.cmp(p.Slot(i), key) == 0 {
		return i, true
	}
	return i, false
}

func (p *SortedPage) setNSlots(n int) { putU16(p.buf, offNSlots, uint16(n)) }

func (p *SortedPage) setStart(i, off int) { putU16(p.buf, p.startsOff(i), uint16(off)) }

// fits reports whether a slot of slotLen bytes can be inserted without
// reshuffling anything beyond a single new starts[] entry.
func (p *SortedPage) fits(slotLen int) bool {
	return p.FreeSpace() >= slotLen+slotPtrSize
}

// AppendUnchecked appends slot at the end (physically the lowest address),
// assuming space has already been verified by the caller.
func (p *SortedPage) AppendUnchecked(slot []byte) {
	n := p.SlotNum()
	var lowest int
	if n == 0 {
		lowest = p.specialEnd()
	} else {
		lowest = p.start(n - 1)
	}
	off := lowest - len(slot)
	copy(p.buf[off:lowest], slot)
	p.setStart(n, off)
	p.setNSlots(n + 1)
}

// InsertBefore inserts slot so that it becomes index i, shifting the
// physical bytes of all slots with index >= i down by len(slot). Returns
// false if it does not fit.
func (p *SortedPage) InsertBefore(i int, slot []byte) bool {
	if !p.fits(len(slot)) {
		return false
	}
	n := p.SlotNum()
	if i < 0 || i > n {
		return false
	}

	// Rebuild all slot bytes in index order with the new slot spliced in,
	// then repack from the high end down. This keeps the storage invariant
	// (slots grow from the high end toward the low end) without needing an
	// in-place shift of the variable-length region.
	all := p.slotsWithInserted(slot, i)

	pos := p.specialEnd()
	newStarts := make([]int, n+1)
	for idx, b := range all {
		pos -= len(b)
		copy(p.buf[pos:pos+len(b)], b)
		newStarts[idx] = pos
	}
	for idx, off := range newStarts {
		p.setStart(idx, off)
	}
	p.setNSlots(n + 1)
	return true
}

// DeleteSlot removes slot i, repacking remaining slots so storage stays
// contiguous.
func (p *SortedPage) DeleteSlot(i int) {
	n := p.SlotNum()
	if i < 0 || i >= n {
		return
	}
	all := make([][]byte, 0, n-1)
	for k := 0; k < n; k++ {
		if k == i {
			continue
		}
		b := make([]byte, len(p.Slot(k)))
		copy(b, p.Slot(k))
		all = append(all, b)
	}
	pos := p.specialEnd()
	for idx, b := range all {
		pos -= len(b)
		copy(p.buf[pos:pos+len(b)], b)
		p.setStart(idx, pos)
	}
	p.setNSlots(len(all))
}

// DeleteByKey removes the slot comparing equal to key, if any.
func (p *SortedPage) DeleteByKey(key []byte) bool {
	i, ok := p.Find(key)
	if !ok {
		return false
	}
	p.DeleteSlot(i)
	return true
}

// SplitInsert logically inserts slot at position i, then redistributes so
// the receiver keeps the lower half and right gets the upper half. Fails
// only if slot alone cannot fit in an empty page.
func (p *SortedPage) SplitInsert(right *SortedPage, slot []byte, i int, specialSize int) bool {
	all := p.slotsWithInserted(slot, i)
	maxSlotBody := len(p.buf) - specialSize - offStartsBase
	if len(slot)+slotPtrSize > maxSlotBody {
		return false
	}

	mid := len(all) / 2
	leftEnts, rightEnts := all[:mid], all[mid:]

	p.rebuild(leftEnts, specialSize)
	right.rebuild(rightEnts, specialSize)
	return true
}

// SplitReplace behaves like SplitInsert but replaces the slot at i (used
// for updates that grow a slot past the page's remaining space).
func (p *SortedPage) SplitReplace(right *SortedPage, slot []byte, i int, specialSize int) bool {
	all := p.slotsWithReplaced(slot, i)
	maxSlotBody := len(p.buf) - specialSize - offStartsBase
	if len(slot)+slotPtrSize > maxSlotBody {
		return false
	}
	mid := len(all) / 2
	p.rebuild(all[:mid], specialSize)
	right.rebuild(all[mid:], specialSize)
	return true
}

func (p *SortedPage) slotsWithInserted(slot []byte, i int) [][]byte {
	n := p.SlotNum()
	all := make([][]byte, 0, n+1)
	for k := 0; k < i; k++ {
		all = append(all, append([]byte(nil), p.Slot(k)...))
	}
	all = append(all, append([]byte(nil), slot...))
	for k := i; k < n; k++ {
		all = append(all, append([]byte(nil), p.Slot(k)...))
	}
	return all
}

func (p *SortedPage) slotsWithReplaced(slot []byte, i int) [][]byte {
	n := p.SlotNum()
	all := make([][]byte, 0, n)
	for k := 0; k < n; k++ {
		if k == i {
			all = append(all, append([]byte(nil), slot...))
		} else {
			all = append(all, append([]byte(nil), p.Slot(k)...))
		}
	}
	return all
}

// rebuild reinitializes the page with specialSize reserved and writes ents
// in order as the new slot set. Caller guarantees ents fit.
func (p *SortedPage) rebuild(ents [][]byte, specialSize int) {
	p.Init(specialSize)
	for _, e := range ents {
		p.AppendUnchecked(e)
	}
}

// ReadSpecial reads len bytes from the special region at offset.
func (p *SortedPage) ReadSpecial(offset, length int) []byte {
	base := p.specialEnd()
	return p.buf[base+offset : base+offset+length]
}

// WriteSpecial writes data into the special region at offset.
func (p *SortedPage) WriteSpecial(offset int, data []byte) {
	base := p.specialEnd()
	copy(p.buf[base+offset:base+offset+len(data)], data)
}

func getU16(b []byte, off int) uint16 { return uint16(b[off]) | uint16(b[off+1])<<8 }
func putU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}
