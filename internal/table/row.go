package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrValueMismatch is returned when a value's Go type does not match the
// column it is being encoded against.
var ErrValueMismatch = errors.New("table: value does not match column type")

// EncodeRow packs values (in logical Columns order) into storage-column
// order (fixed-width first, then variable-width). There is no
// nullability, so no null bitmap is carried.
func EncodeRow(s Schema, values []any) ([]byte, error) {
	if len(values) != len(s.Columns) {
		return nil, fmt.Errorf("table: row has %d values, schema has %d columns", len(values), len(s.Columns))
	}
	byName := make(map[string]any, len(s.Columns))
	for i, c := range s.Columns {
		byName[c.Name] = values[i]
	}

	var out []byte
	for _, c := range s.StorageColumns {
		v := byName[c.Name]
		enc, err := encodeValue(c, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// DecodeRow is EncodeRow's inverse, returning values in logical Columns order.
func DecodeRow(s Schema, buf []byte) ([]any, error) {
	storageVals := make(map[string]any, len(s.StorageColumns))
	pos := 0
	for _, c := range s.StorageColumns {
		v, n, err := decodeValue(c, buf[pos:])
		if err != nil {
			return nil, err
		}
		storageVals[c.Name] = v
		pos += n
	}
	out := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = storageVals[c.Name]
	}
	return out, nil
}

func encodeValue(c Column, v any) ([]byte, error) {
	switch c.Type {
	case TypeInt32:
		x, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: column %s wants int32", ErrValueMismatch, c.Name)
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(x)))
		return b[:], nil
	case TypeInt64:
		x, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: column %s wants int64", ErrValueMismatch, c.Name)
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(x))
		return b[:], nil
	case TypeFloat64:
		x, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%w: column %s wants float64", ErrValueMismatch, c.Name)
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(x))
		return b[:], nil
	case TypeChar:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: column %s wants char", ErrValueMismatch, c.Name)
		}
		if len(s) > c.Size {
			return nil, fmt.Errorf("table: value %q exceeds char(%d)", s, c.Size)
		}
		b := make([]byte, c.Size)
		copy(b, s)
		return b, nil
	case TypeVarchar:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: column %s wants varchar", ErrValueMismatch, c.Name)
		}
		if len(s) > c.Size {
			return nil, fmt.Errorf("table: value %q exceeds varchar(%d)", s, c.Size)
		}
		out := make([]byte, 0, 1+len(s))
		out = append(out, byte(len(s)))
		out = append(out, s...)
		return out, nil
	default:
		return nil, fmt.Errorf("table: unsupported column type %v", c.Type)
	}
}

func decodeValue(c Column, buf []byte) (any, int, error) {
	switch c.Type {
	case TypeInt32:
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("table: short buffer decoding int32")
		}
		return int64(int32(binary.LittleEndian.Uint32(buf[:4]))), 4, nil
	case TypeInt64:
		if len(buf) < 8 {
			return nil, 0, fmt.Errorf("table: short buffer decoding int64")
		}
		return int64(binary.LittleEndian.Uint64(buf[:8])), 8, nil
	case TypeFloat64:
		if len(buf) < 8 {
			return nil, 0, fmt.Errorf("table: short buffer decoding float64")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[:8])), 8, nil
	case TypeChar:
		if len(buf) < c.Size {
			return nil, 0, fmt.Errorf("table: short buffer decoding char(%d)", c.Size)
		}
		return trimTrailingZero(buf[:c.Size]), c.Size, nil
	case TypeVarchar:
		if len(buf) < 1 {
			return nil, 0, fmt.Errorf("table: short buffer decoding varchar length")
		}
		n := int(buf[0])
		if len(buf) < 1+n {
			return nil, 0, fmt.Errorf("table: short buffer decoding varchar body")
		}
		return string(buf[1 : 1+n]), 1 + n, nil
	default:
		return nil, 0, fmt.Errorf("table: unsupported column type %v", c.Type)
	}
}

func trimTrailingZero(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
