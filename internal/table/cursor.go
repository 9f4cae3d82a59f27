package table

import "github.com/nmarchenko/ridgeline/internal/btree"

// Bound is a range-scan endpoint: Unbounded ignores Key entirely;
// otherwise Key is compared exclusive unless Inclusive is set.
type Bound struct {
	Key       []byte
	Unbounded bool
	Inclusive bool
}

// RowIterator walks a table's rows in primary-key order, optionally
// bounded above, decoding each leaf value back into column order.
type RowIterator struct {
	t      *Table
	it     *btree.Iterator
	hi     Bound
	done   bool
	curKey []byte
	curRow []any
}

// GetIterator returns a full-table row cursor in ascending PK order.
func (t *Table) GetIterator() (*RowIterator, error) {
	it, err := t.data.NewIterator(nil)
	if err != nil {
		return nil, err
	}
	ri := &RowIterator{t: t, it: it, hi: Bound{Unbounded: true}}
	if err := ri.load(); err != nil {
		return nil, err
	}
	return ri, nil
}

// GetRangeIterator returns a bounded cursor over [lo, hi] per the
// inclusive/unbounded flags on each endpoint.
func (t *Table) GetRangeIterator(lo, hi Bound) (*RowIterator, error) {
	start := lo.Key
	if lo.Unbounded {
		start = nil
	}
	it, err := t.data.NewIterator(start)
	if err != nil {
		return nil, err
	}
	ri := &RowIterator{t: t, it: it, hi: hi}
	// Lower-bound exclusivity: NewIterator(start) already positions at the
	// first key >= start; skip past an equal key when lo is exclusive.
	if !lo.Unbounded && !lo.Inclusive {
		for ri.it.Valid() && string(ri.it.Key()) == string(lo.Key) {
			if more, err := ri.it.Next(); err != nil {
				return nil, err
			} else if !more {
				break
			}
		}
	}
	if err := ri.load(); err != nil {
		return nil, err
	}
	return ri, nil
}

func (ri *RowIterator) load() error {
	if ri.done || !ri.it.Valid() {
		ri.done = true
		return nil
	}
	key := ri.it.Key()
	if !ri.hi.Unbounded {
		cmp := btree.Compare(ri.t.schema.CompareKind(), key, ri.hi.Key)
		if cmp > 0 || (cmp == 0 && !ri.hi.Inclusive) {
			ri.done = true
			return nil
		}
	}
	row, err := DecodeRow(ri.t.schema, ri.it.Value())
	if err != nil {
		return err
	}
	ri.curKey = append([]byte(nil), key...)
	ri.curRow = row
	return nil
}

// Valid reports whether Key()/Row() can be called.
func (ri *RowIterator) Valid() bool { return !ri.done }

// Key returns the current row's encoded primary key.
func (ri *RowIterator) Key() []byte { return ri.curKey }

// Row returns the current row's decoded values in logical column order.
func (ri *RowIterator) Row() []any { return ri.curRow }

// Next advances the cursor.
func (ri *RowIterator) Next() (bool, error) {
	if ri.done {
		return false, nil
	}
	if _, err := ri.it.Next(); err != nil {
		return false, err
	}
	if err := ri.load(); err != nil {
		return false, err
	}
	return !ri.done, nil
}
