package table

import (
	"fmt"
	"sync"

	"github.com/nmarchenko/ridgeline/internal/blob"
	"github.com/nmarchenko/ridgeline/internal/btree"
)

func rewriteBlob(c *Catalog, head uint32, data []byte) (uint32, error) {
	return blob.Rewrite(c.pm, head, data)
}

// Table is a single opened table: its schema plus the data B+Tree keyed
// by the encoded primary key, holding storage-order-encoded rows as
// values. mu serializes the insert path's tick bookkeeping
// and each refcount row's read-modify-write; same-key row conflicts are
// the lock manager's job, not this mutex's.
type Table struct {
	cat            *Catalog
	schema         Schema
	data           *btree.Tree
	schemaBlobHead uint32

	mu sync.Mutex
}

func (t *Table) Schema() Schema {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schema
}

// Ticks returns the table's current monotonic insert counter.
func (t *Table) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schema.Tick
}

// NextAutoPK returns the next auto-generated primary-key value for a
// table whose PK is auto-increment, consulting both the persisted tick
// and the tree's current max key so a tick that drifted behind a manual
// insert (or a reopen) still produces a fresh value.
func (t *Table) NextAutoPK() (int64, error) {
	if !t.schema.AutoGenPK {
		return 0, fmt.Errorf("table: %s has no auto-increment PK", t.schema.Name)
	}
	t.mu.Lock()
	next := int64(t.schema.Tick) + 1
	t.mu.Unlock()
	if maxKey, ok, err := t.data.MaxKey(); err != nil {
		return 0, err
	} else if ok {
		maxVal, err := DecodeKey(t.schema.PKColumn(), maxKey)
		if err != nil {
			return 0, err
		}
		if mv, ok := maxVal.(int64); ok && mv+1 > next {
			next = mv + 1
		}
	}
	return next, nil
}

// Insert validates foreign keys, encodes and inserts one row, bumps the
// tick, and increments the refcount of every table this row references.
// Returns the row's encoded primary key (useful to undo-log the insert).
func (t *Table) Insert(values []any) ([]byte, error) {
	pkVal := values[t.schema.PKIndex]
	key, err := EncodeKey(t.schema.PKColumn(), pkVal)
	if err != nil {
		return nil, err
	}

	for _, fk := range t.schema.ForeignKeys {
		idx := t.schema.ColumnIndex(fk.Column)
		if idx < 0 {
			return nil, fmt.Errorf("table: unknown FK column %s", fk.Column)
		}
		if err := t.checkFKTarget(fk, values[idx]); err != nil {
			return nil, err
		}
		if err := t.bumpRefcount(fk.RefTable, values[idx], 1); err != nil {
			return nil, err
		}
	}

	row, err := EncodeRow(t.schema, values)
	if err != nil {
		return nil, err
	}
	if err := t.data.Insert(key, row); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if pkVal64, ok := pkVal.(int64); ok && uint64(pkVal64) > t.schema.Tick {
		t.schema.Tick = uint64(pkVal64)
	} else {
		t.schema.Tick++
	}
	return key, t.persistSchema()
}

// InsertRaw inserts an already-encoded key/row pair without FK checks or
// tick bookkeeping, used by undo (restoring a deleted row verbatim).
func (t *Table) InsertRaw(key, row []byte) error {
	return t.data.Insert(key, row)
}

// RestoreRow reinserts a previously deleted row verbatim, re-applying the
// FK refcount increments the deletion reverted. Used by abort undo.
func (t *Table) RestoreRow(key, row []byte) error {
	vals, err := DecodeRow(t.schema, row)
	if err != nil {
		return err
	}
	for _, fk := range t.schema.ForeignKeys {
		idx := t.schema.ColumnIndex(fk.Column)
		if err := t.bumpRefcount(fk.RefTable, vals[idx], 1); err != nil {
			return err
		}
	}
	return t.data.Insert(key, row)
}

// Get looks up a row by its encoded primary key.
func (t *Table) Get(key []byte) ([]any, bool, error) {
	raw, ok, err := t.data.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	row, err := DecodeRow(t.schema, raw)
	return row, true, err
}

// Update overwrites the row at key, returning the row's prior decoded
// values for the caller's undo log.
func (t *Table) Update(key []byte, values []any) ([]any, error) {
	prior, ok, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, btree.ErrKeyNotFound
	}
	row, err := EncodeRow(t.schema, values)
	if err != nil {
		return nil, err
	}
	if err := t.data.Update(key, row); err != nil {
		return nil, err
	}
	return prior, nil
}

// UpdateRaw restores an already-encoded row at key, used by undo.
func (t *Table) UpdateRaw(key []byte, row []byte) error {
	return t.data.Update(key, row)
}

// Delete removes the row at key, decrementing the refcount of every table
// it referenced, and returns its prior decoded values for undo.
func (t *Table) Delete(key []byte) ([]any, error) {
	prior, ok, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, btree.ErrKeyNotFound
	}
	for _, fk := range t.schema.ForeignKeys {
		idx := t.schema.ColumnIndex(fk.Column)
		if err := t.bumpRefcount(fk.RefTable, prior[idx], -1); err != nil {
			return nil, err
		}
	}
	if _, err := t.data.Delete(key); err != nil {
		return nil, err
	}
	return prior, nil
}

func (t *Table) persistSchema() error {
	encoded := t.schema.Encode()
	head, err := rewriteBlob(t.cat, t.schemaBlobHead, encoded)
	if err != nil {
		return err
	}
	t.schemaBlobHead = head
	return t.cat.updateCatalogEntry(t.schema.Name, t.data.MetaPgid(), head)
}

// checkFKTarget verifies the referenced row actually exists in the FK's
// target table before the insert is allowed to reference it.
func (t *Table) checkFKTarget(fk ForeignKey, v any) error {
	ref, err := t.cat.Open(fk.RefTable)
	if err != nil {
		return fmt.Errorf("table: FK references unknown table %s: %w", fk.RefTable, err)
	}
	key, err := EncodeKey(ref.schema.PKColumn(), v)
	if err != nil {
		return err
	}
	_, ok, err := ref.data.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s(%v) referenced by %s.%s", ErrFKTargetMissing, fk.RefTable, v, t.schema.Name, fk.Column)
	}
	return nil
}

// bumpRefcount adjusts the refcount row for value v in refTable's
// companion table `__refcounts_of_<refTable>` by delta.
func (t *Table) bumpRefcount(refTable string, v any, delta int64) error {
	rc, err := t.cat.Open(RefcountTableName(refTable))
	if err != nil {
		// No refcount table means refTable itself doesn't exist / has no PK;
		// surfaced as a normal FK-target-missing error at the executor layer.
		return fmt.Errorf("table: FK target table %s has no refcount companion: %w", refTable, err)
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	pkCol := rc.schema.Columns[1]
	key, err := EncodeKey(pkCol, v)
	if err != nil {
		return err
	}
	row, ok, err := rc.data.Get(key)
	if err != nil {
		return err
	}
	var cur int64
	if ok {
		vals, err := DecodeRow(rc.schema, row)
		if err != nil {
			return err
		}
		cur = vals[0].(int64)
	}
	next := cur + delta
	vals := []any{next, v}
	encoded, err := EncodeRow(rc.schema, vals)
	if err != nil {
		return err
	}
	if ok {
		return rc.data.Update(key, encoded)
	}
	return rc.data.Insert(key, encoded)
}

// hasNonzeroRefcount reports whether any row in this refcount table still
// shows a positive count; a drop of the referenced table is refused
// while one does.
func (t *Table) hasNonzeroRefcount() (bool, error) {
	it, err := t.data.NewIterator(nil)
	if err != nil {
		return false, err
	}
	for it.Valid() {
		vals, err := DecodeRow(t.schema, it.Value())
		if err != nil {
			return false, err
		}
		if vals[0].(int64) > 0 {
			return true, nil
		}
		if more, err := it.Next(); err != nil {
			return false, err
		} else if !more {
			break
		}
	}
	return false, nil
}
