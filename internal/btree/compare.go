package btree

import (
	"bytes"
	"encoding/binary"
	"math"
)

// CompareKind selects one of the three key-comparator flavors a table's
// primary-key type maps to.
// This is deliberately an enum dispatched at each comparison rather than a
// generic type parameter, so a tree can be opened without knowing its key
// type statically (the table catalog only learns it at table-open time).
type CompareKind uint8

const (
	IntegerKeyCompare CompareKind = iota
	FloatKeyCompare
	StringKeyCompare
)

// Compare orders two encoded keys according to kind.
func Compare(kind CompareKind, a, b []byte) int {
	switch kind {
	case IntegerKeyCompare:
		ai := int64(binary.BigEndian.Uint64(a))
		bi := int64(binary.BigEndian.Uint64(b))
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case FloatKeyCompare:
		af := math.Float64frombits(binary.BigEndian.Uint64(a))
		bf := math.Float64frombits(binary.BigEndian.Uint64(b))
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default: // StringKeyCompare
		return bytes.Compare(a, b)
	}
}

// EncodeIntKey encodes v as an IntegerKeyCompare key.
func EncodeIntKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeIntKey is the inverse of EncodeIntKey.
func DecodeIntKey(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

// EncodeFloatKey encodes v as a FloatKeyCompare key.
func EncodeFloatKey(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// DecodeFloatKey is the inverse of EncodeFloatKey.
func DecodeFloatKey(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) }
