package table

import (
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/btree"
)

// EncodeKey maps a primary-key value to its on-disk btree key, dispatching
// on the PK column's type the same way the tree itself dispatches
// comparisons.
func EncodeKey(col Column, v any) ([]byte, error) {
	switch col.Type {
	case TypeInt32, TypeInt64:
		x, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: PK column %s wants an integer", ErrValueMismatch, col.Name)
		}
		return btree.EncodeIntKey(x), nil
	case TypeFloat64:
		x, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%w: PK column %s wants a float", ErrValueMismatch, col.Name)
		}
		return btree.EncodeFloatKey(x), nil
	case TypeChar, TypeVarchar:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: PK column %s wants a string", ErrValueMismatch, col.Name)
		}
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("table: unsupported PK column type %v", col.Type)
	}
}

// DecodeKey is EncodeKey's inverse for the hidden-PK auto-increment path,
// which must read back the numeric value to mint the next tick.
func DecodeKey(col Column, key []byte) (any, error) {
	switch col.Type {
	case TypeInt32, TypeInt64:
		return btree.DecodeIntKey(key), nil
	case TypeFloat64:
		return btree.DecodeFloatKey(key), nil
	case TypeChar, TypeVarchar:
		return string(key), nil
	default:
		return nil, fmt.Errorf("table: unsupported PK column type %v", col.Type)
	}
}
