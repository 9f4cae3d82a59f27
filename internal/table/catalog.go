package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmarchenko/ridgeline/internal/blob"
	"github.com/nmarchenko/ridgeline/internal/btree"
	"github.com/nmarchenko/ridgeline/internal/page"
)

var (
	ErrAlreadyExists   = errors.New("table: already exists")
	ErrNotFound        = errors.New("table: not found")
	ErrRefcountNonzero = errors.New("table: refcount > 0")
	ErrFKTargetMissing = errors.New("table: FK target row does not exist")
)

// RefcountTableName names the FK refcount companion table for a
// referenced table (`__refcounts_of_<T>`).
func RefcountTableName(referenced string) string { return "__refcounts_of_" + referenced }

// Catalog is the top-level B+Tree (rooted at the page manager's super
// page) mapping table name -> {data tree meta pgid, schema blob head
// pgid}, plus the in-memory cache of opened tables.
type Catalog struct {
	pm   *page.Manager
	tree *btree.Tree // StringKeyCompare, keyed by table name

	mu    sync.RWMutex
	open  map[string]*Table
}

// OpenCatalog opens (or, on a brand-new page file, formats) the catalog
// tree at the super page. A page file with only its meta+super pages
// allocated has never had a catalog tree created at the super page yet.
func OpenCatalog(pm *page.Manager) (*Catalog, error) {
	c := &Catalog{pm: pm, open: make(map[string]*Table)}

	if pm.PageCount() <= page.SuperPageID+1 {
		t, err := btree.CreateAt(pm, page.SuperPageID, btree.StringKeyCompare)
		if err != nil {
			return nil, fmt.Errorf("table: create catalog tree: %w", err)
		}
		c.tree = t
		slog.Debug("table.OpenCatalog", "fresh", true)
		return c, nil
	}

	t, err := btree.Open(pm, page.SuperPageID, btree.StringKeyCompare)
	if err != nil {
		return nil, fmt.Errorf("table: open catalog tree: %w", err)
	}
	c.tree = t
	slog.Debug("table.OpenCatalog", "fresh", false)
	return c, nil
}

type catalogEntry struct {
	dataTreeMeta   uint32
	schemaBlobHead uint32
}

func encodeCatalogEntry(e catalogEntry) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], e.dataTreeMeta)
	binary.LittleEndian.PutUint32(b[4:8], e.schemaBlobHead)
	return b
}

func decodeCatalogEntry(b []byte) catalogEntry {
	return catalogEntry{
		dataTreeMeta:   binary.LittleEndian.Uint32(b[0:4]),
		schemaBlobHead: binary.LittleEndian.Uint32(b[4:8]),
	}
}

// CreateTable allocates a schema blob, a data B+Tree, a catalog entry,
// and a foreign-key refcount companion table for this table's own
// primary key.
func (c *Catalog) CreateTable(s Schema) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok, err := c.tree.Get([]byte(s.Name)); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, s.Name)
	}

	schemaHead, err := blob.Write(c.pm, s.Encode())
	if err != nil {
		return nil, err
	}
	dataTree, err := btree.Create(c.pm, s.CompareKind())
	if err != nil {
		return nil, err
	}

	entry := catalogEntry{dataTreeMeta: dataTree.MetaPgid(), schemaBlobHead: schemaHead}
	if err := c.tree.Insert([]byte(s.Name), encodeCatalogEntry(entry)); err != nil {
		return nil, err
	}

	t := &Table{cat: c, schema: s, data: dataTree, schemaBlobHead: schemaHead}
	c.open[s.Name] = t

	if err := c.createRefcountTable(s.Name); err != nil {
		return nil, err
	}

	slog.Debug("table.CreateTable", "name", s.Name)
	return t, nil
}

// createRefcountTable makes the `__refcounts_of_<T>` companion table with
// schema (refcount int64, pk), keyed by pk. The companion is registered
// directly in the catalog tree rather than through CreateTable, so it
// gets no refcount companion of its own.
func (c *Catalog) createRefcountTable(referenced string) error {
	t, ok := c.open[referenced]
	if !ok {
		return fmt.Errorf("table: internal: refcount companion requested for unopened table %s", referenced)
	}
	pk := t.schema.PKColumn()
	rcName := RefcountTableName(referenced)
	rcSchema := NewSchema(rcName,
		[]Column{{Name: "refcount", Type: TypeInt64}, pk},
		pk.Name, false, nil)
	// Directly build without recursive locking (we already hold c.mu).
	if _, ok, err := c.tree.Get([]byte(rcName)); err != nil {
		return err
	} else if ok {
		return nil // already present (shouldn't happen, but idempotent)
	}
	schemaHead, err := blob.Write(c.pm, rcSchema.Encode())
	if err != nil {
		return err
	}
	dataTree, err := btree.Create(c.pm, rcSchema.CompareKind())
	if err != nil {
		return err
	}
	entry := catalogEntry{dataTreeMeta: dataTree.MetaPgid(), schemaBlobHead: schemaHead}
	if err := c.tree.Insert([]byte(rcName), encodeCatalogEntry(entry)); err != nil {
		return err
	}
	c.open[rcName] = &Table{cat: c, schema: rcSchema, data: dataTree, schemaBlobHead: schemaHead}
	return nil
}

// DropTable destroys a table's data tree and schema blob and removes its
// catalog entry, refusing if the table's refcount companion still shows
// outstanding references.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rcName := RefcountTableName(name)
	if rc, err := c.openLocked(rcName); err == nil {
		nonzero, err := rc.hasNonzeroRefcount()
		if err != nil {
			return err
		}
		if nonzero {
			return fmt.Errorf("table: drop %s: %w", name, ErrRefcountNonzero)
		}
	}

	t, err := c.openLocked(name)
	if err != nil {
		return err
	}
	if err := t.data.Destroy(); err != nil {
		return err
	}
	if err := blob.Destroy(c.pm, t.schemaBlobHead); err != nil {
		return err
	}
	if _, err := c.tree.Delete([]byte(name)); err != nil {
		return err
	}
	delete(c.open, name)

	if rc, err := c.openLocked(rcName); err == nil {
		if err := rc.data.Destroy(); err != nil {
			return err
		}
		if err := blob.Destroy(c.pm, rc.schemaBlobHead); err != nil {
			return err
		}
		if _, err := c.tree.Delete([]byte(rcName)); err != nil {
			return err
		}
		delete(c.open, rcName)
	}

	slog.Debug("table.DropTable", "name", name)
	return nil
}

// updateCatalogEntry rewrites a table's catalog row after its schema blob
// head changes (e.g. a tick bump rewrites the schema blob to a fresh
// chain). Caller need not hold c.mu itself; this method does not take it
// to avoid re-entrant deadlock from callers that already hold it (Insert
// runs under the table's own synchronization, not the catalog's).
func (c *Catalog) updateCatalogEntry(name string, dataTreeMeta, schemaBlobHead uint32) error {
	entry := catalogEntry{dataTreeMeta: dataTreeMeta, schemaBlobHead: schemaBlobHead}
	return c.tree.Update([]byte(name), encodeCatalogEntry(entry))
}

// Open returns a cached or lazily-opened table handle.
func (c *Catalog) Open(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(name)
}

func (c *Catalog) openLocked(name string) (*Table, error) {
	if t, ok := c.open[name]; ok {
		return t, nil
	}
	v, ok, err := c.tree.Get([]byte(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	entry := decodeCatalogEntry(v)
	rawSchema, err := blob.Read(c.pm, entry.schemaBlobHead)
	if err != nil {
		return nil, err
	}
	s, err := DecodeSchema(rawSchema)
	if err != nil {
		return nil, err
	}
	dataTree, err := btree.Open(c.pm, entry.dataTreeMeta, s.CompareKind())
	if err != nil {
		return nil, err
	}
	t := &Table{cat: c, schema: s, data: dataTree, schemaBlobHead: entry.schemaBlobHead}
	c.open[name] = t
	return t, nil
}

// Exists reports whether a table name is registered in the catalog.
func (c *Catalog) Exists(name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.open[name]; ok {
		return true, nil
	}
	_, ok, err := c.tree.Get([]byte(name))
	return ok, err
}

// ListTables returns every user-visible table name (refcount companion
// tables are hidden from this listing, matching the `SHOW TABLE` shell
// command's expected output).
func (c *Catalog) ListTables() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	it, err := c.tree.NewIterator(nil)
	if err != nil {
		return nil, err
	}
	for it.Valid() {
		name := string(it.Key())
		if len(name) < len("__refcounts_of_") || name[:len("__refcounts_of_")] != "__refcounts_of_" {
			names = append(names, name)
		}
		if more, err := it.Next(); err != nil {
			return nil, err
		} else if !more {
			break
		}
	}
	return names, nil
}
