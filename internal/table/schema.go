// Package table implements the table catalog: a B+Tree rooted at the
// page manager's super page mapping table names to their data tree and
// schema blob, plus per-table row (de)serialization, foreign-key refcount
// companion tables, and auto-increment primary-key generation.
package table

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/btree"
)

// ColumnType is one of the five scalar types the SQL surface accepts.
// There is no nullability and no user-defined types.
type ColumnType uint8

const (
	TypeInt32 ColumnType = iota
	TypeInt64
	TypeFloat64
	TypeChar    // fixed-width, Size bytes, zero-padded
	TypeVarchar // variable-width, up to Size bytes, u8-length-prefixed
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeChar:
		return "char"
	case TypeVarchar:
		return "varchar"
	default:
		return "unknown"
	}
}

// IsFixedWidth reports whether the type's encoded size is constant
// (independent of the runtime value), used to bucket StorageColumns.
func (t ColumnType) IsFixedWidth() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeFloat64 || t == TypeChar
}

// FixedSize returns the encoded byte width of a fixed-width column. It
// panics for TypeVarchar, whose width depends on the value.
func (t ColumnType) FixedSize(size int) int {
	switch t {
	case TypeInt32:
		return 4
	case TypeInt64:
		return 8
	case TypeFloat64:
		return 8
	case TypeChar:
		return size
	default:
		panic(fmt.Sprintf("table: FixedSize called on variable-width type %v", t))
	}
}

// Column is one declared table column.
type Column struct {
	Name string
	Type ColumnType
	Size int // char(N)/varchar(N) byte bound; ignored for numeric types
}

// ForeignKey records a declared `FOREIGN KEY (Col) REFERENCES RefTable(RefCol)`.
type ForeignKey struct {
	Column   string
	RefTable string
	RefCol   string
}

// Schema is a table's full shape: logical column order plus the storage
// order used for on-disk row encoding (fixed-width columns first, then
// variable-width).
type Schema struct {
	Name           string
	Columns        []Column
	StorageColumns []Column
	PKIndex        int // index into Columns
	AutoGenPK      bool
	HiddenPK       bool
	ForeignKeys    []ForeignKey

	// Tick is the per-table monotonic insert counter, the
	// source of auto-generated PKs. Persisted in the schema blob and
	// refreshed at open.
	Tick uint64
}

var ErrNoPrimaryKey = errors.New("table: no primary key column")

// HiddenPKName is the column name synthesized when no PK is declared.
const HiddenPKName = "__rowid"

// NewSchema builds a Schema from declared columns and PK/auto-increment
// info, appending a hidden auto-increment int64 PK when none is
// declared.
func NewSchema(name string, cols []Column, pkCol string, autoIncrement bool, fks []ForeignKey) Schema {
	s := Schema{Name: name, Columns: append([]Column(nil), cols...), ForeignKeys: fks}

	pkIdx := -1
	for i, c := range s.Columns {
		if c.Name == pkCol {
			pkIdx = i
			break
		}
	}
	if pkIdx < 0 {
		s.Columns = append(s.Columns, Column{Name: HiddenPKName, Type: TypeInt64})
		pkIdx = len(s.Columns) - 1
		s.HiddenPK = true
		s.AutoGenPK = true
	} else {
		s.AutoGenPK = autoIncrement
	}
	s.PKIndex = pkIdx
	s.StorageColumns = storageOrder(s.Columns)
	return s
}

// storageOrder returns columns reordered fixed-width-first, then
// variable-width, preserving relative order within each group.
func storageOrder(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if c.Type.IsFixedWidth() {
			out = append(out, c)
		}
	}
	for _, c := range cols {
		if !c.Type.IsFixedWidth() {
			out = append(out, c)
		}
	}
	return out
}

// PKColumn returns the schema's primary-key column.
func (s Schema) PKColumn() Column { return s.Columns[s.PKIndex] }

// CompareKind returns the btree comparator variant for this schema's PK
// type.
func (s Schema) CompareKind() btree.CompareKind {
	switch s.PKColumn().Type {
	case TypeInt32, TypeInt64:
		return btree.IntegerKeyCompare
	case TypeFloat64:
		return btree.FloatKeyCompare
	default:
		return btree.StringKeyCompare
	}
}

// ColumnIndex returns the index of a named column in Columns, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ---- schema (de)serialization: tag-based binary encoding ----

const (
	schemaTag uint8 = 1
)

// Encode serializes the schema as u8 type tags, u32/u64 fixed ints,
// length-prefixed strings, and length-prefixed arrays.
func (s Schema) Encode() []byte {
	var out []byte
	out = append(out, schemaTag)
	out = appendString(out, s.Name)
	out = appendU32(out, uint32(len(s.Columns)))
	for _, c := range s.Columns {
		out = appendColumn(out, c)
	}
	out = appendU32(out, uint32(s.PKIndex))
	out = appendBool(out, s.AutoGenPK)
	out = appendBool(out, s.HiddenPK)
	out = appendU32(out, uint32(len(s.ForeignKeys)))
	for _, fk := range s.ForeignKeys {
		out = appendString(out, fk.Column)
		out = appendString(out, fk.RefTable)
		out = appendString(out, fk.RefCol)
	}
	out = appendU64(out, s.Tick)
	return out
}

// DecodeSchema is Encode's inverse.
func DecodeSchema(b []byte) (Schema, error) {
	d := &decoder{buf: b}
	tag, err := d.u8()
	if err != nil || tag != schemaTag {
		return Schema{}, fmt.Errorf("table: bad schema tag")
	}
	name, err := d.string()
	if err != nil {
		return Schema{}, err
	}
	n, err := d.u32()
	if err != nil {
		return Schema{}, err
	}
	cols := make([]Column, n)
	for i := range cols {
		c, err := d.column()
		if err != nil {
			return Schema{}, err
		}
		cols[i] = c
	}
	pkIdx, err := d.u32()
	if err != nil {
		return Schema{}, err
	}
	autoGen, err := d.bool()
	if err != nil {
		return Schema{}, err
	}
	hidden, err := d.bool()
	if err != nil {
		return Schema{}, err
	}
	nfk, err := d.u32()
	if err != nil {
		return Schema{}, err
	}
	fks := make([]ForeignKey, nfk)
	for i := range fks {
		col, err := d.string()
		if err != nil {
			return Schema{}, err
		}
		refT, err := d.string()
		if err != nil {
			return Schema{}, err
		}
		refC, err := d.string()
		if err != nil {
			return Schema{}, err
		}
		fks[i] = ForeignKey{Column: col, RefTable: refT, RefCol: refC}
	}
	tick, err := d.u64()
	if err != nil {
		return Schema{}, err
	}
	s := Schema{
		Name:        name,
		Columns:     cols,
		PKIndex:     int(pkIdx),
		AutoGenPK:   autoGen,
		HiddenPK:    hidden,
		ForeignKeys: fks,
		Tick:        tick,
	}
	s.StorageColumns = storageOrder(s.Columns)
	return s, nil
}

func appendColumn(out []byte, c Column) []byte {
	out = append(out, byte(c.Type))
	out = appendString(out, c.Name)
	out = appendU32(out, uint32(c.Size))
	return out
}

func (d *decoder) column() (Column, error) {
	t, err := d.u8()
	if err != nil {
		return Column{}, err
	}
	name, err := d.string()
	if err != nil {
		return Column{}, err
	}
	size, err := d.u32()
	if err != nil {
		return Column{}, err
	}
	return Column{Name: name, Type: ColumnType(t), Size: int(size)}, nil
}

func appendString(out []byte, s string) []byte {
	out = appendU32(out, uint32(len(s)))
	return append(out, s...)
}

func appendU32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func appendU64(out []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(out, b[:]...)
}

func (d *decoder) u64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, fmt.Errorf("table: schema decode: short buffer")
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func appendBool(out []byte, v bool) []byte {
	if v {
		return append(out, 1)
	}
	return append(out, 0)
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) u8() (uint8, error) {
	if d.pos+1 > len(d.buf) {
		return 0, fmt.Errorf("table: schema decode: short buffer")
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, fmt.Errorf("table: schema decode: short buffer")
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

func (d *decoder) string() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	if d.pos+int(n) > len(d.buf) {
		return "", fmt.Errorf("table: schema decode: short buffer")
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

// maxVarWidth is the largest byte size a char(n)/varchar(n) column may
// declare.
const maxVarWidth = 256

var ErrColumnSizeOutOfRange = fmt.Errorf("table: char/varchar size must be in (0, %d]", maxVarWidth)
