package spage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSlot encodes (key, value) as keyLen:u16 + key + value, matching the
// leaf-slot shape used by internal/btree.
func encodeSlot(key, value []byte) []byte {
	out := make([]byte, 2+len(key)+len(value))
	putU16(out, 0, uint16(len(key)))
	copy(out[2:], key)
	copy(out[2+len(key):], value)
	return out
}

func slotKey(slot []byte) []byte {
	kl := int(getU16(slot, 0))
	return slot[2 : 2+kl]
}

func intCmp(slot, key []byte) int {
	return bytes.Compare(slotKey(slot), key)
}

func TestSortedPageInsertFindOrder(t *testing.T) {
	buf := make([]byte, 4096)
	p := New(buf, intCmp)
	p.Init(8)

	keys := [][]byte{[]byte("c"), []byte("a"), []byte("b")}
	for _, k := range keys {
		i := p.LowerBound(k)
		require.True(t, p.InsertBefore(i, encodeSlot(k, []byte("v-"+string(k)))))
	}

	require.Equal(t, 3, p.SlotNum())
	require.Equal(t, "a", string(slotKey(p.Slot(0))))
	require.Equal(t, "b", string(slotKey(p.Slot(1))))
	require.Equal(t, "c", string(slotKey(p.Slot(2))))

	idx, ok := p.Find([]byte("b"))
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, ok = p.Find([]byte("z"))
	require.False(t, ok)
}

func TestSortedPageDeleteByKey(t *testing.T) {
	buf := make([]byte, 4096)
	p := New(buf, intCmp)
	p.Init(8)
	for _, k := range []string{"a", "b", "c"} {
		i := p.LowerBound([]byte(k))
		p.InsertBefore(i, encodeSlot([]byte(k), []byte("v")))
	}
	require.True(t, p.DeleteByKey([]byte("b")))
	require.Equal(t, 2, p.SlotNum())
	_, ok := p.Find([]byte("b"))
	require.False(t, ok)
	require.False(t, p.DeleteByKey([]byte("b")))
}

func TestSortedPageSpecialRegion(t *testing.T) {
	buf := make([]byte, 4096)
	p := New(buf, intCmp)
	p.Init(8)
	p.WriteSpecial(0, []byte{1, 2, 3, 4})
	require.Equal(t, []byte{1, 2, 3, 4}, p.ReadSpecial(0, 4))
}

func TestSortedPageSplitInsertBalancesHalves(t *testing.T) {
	buf := make([]byte, 4096)
	p := New(buf, intCmp)
	p.Init(8)
	for i := 0; i < 4; i++ {
		k := []byte{byte('a' + i)}
		p.InsertBefore(p.SlotNum(), encodeSlot(k, []byte("v")))
	}

	rightBuf := make([]byte, 4096)
	right := New(rightBuf, intCmp)
	ok := p.SplitInsert(right, encodeSlot([]byte("e"), []byte("v")), p.SlotNum(), 8)
	require.True(t, ok)
	require.Equal(t, 5, p.SlotNum()+right.SlotNum())
}
