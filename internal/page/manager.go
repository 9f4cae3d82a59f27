// Package page implements the paged storage engine's buffer-managed page
// file: a fixed-size 4096-byte-page file with pinning, LRU eviction and a
// free list. Higher layers (internal/spage, internal/btree, internal/blob)
// never touch the file directly; they acquire pinned [Handle]s from a
// [Manager].
package page

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
)

const (
	// Size is the fixed page size in bytes.
	Size = 4096

	// MetaPageID is the page-manager meta page: free_list_head,
	// free_pages_in_head, page_num.
	MetaPageID uint32 = 0

	// SuperPageID is the caller-owned super page (table catalog root).
	SuperPageID uint32 = 1

	// firstDataPageID is the first page id allocate() may ever hand out.
	firstDataPageID uint32 = 2

	// freeListCapacity is the maximum count of freed page ids a single
	// free-list page can hold: floor((4096-4)/4) = 1023. We store ids in the
	// first 1023*4 bytes and reserve the trailing 4 bytes for the next
	// pointer; id 0 inside the array is never a valid page id (0 and 1 are
	// reserved) so it is used as an in-page terminator, letting the array
	// use the full 1023-slot budget without a separate count field.
	freeListCapacity = (Size - 4) / 4
)

const (
	metaOffFreeListHead     = 0
	metaOffFreePagesInHead  = 4
	metaOffPageNum          = 8
	freeListOffNextPointer  = Size - 4
)

// Manager owns the page file: allocation, the free list, and the buffer
// pool of pinned frames. All public operations are safe for concurrent use
// from multiple goroutines; the free list and allocation path are
// serialized by mu.
type Manager struct {
	mu   sync.Mutex
	f    *os.File
	path string

	pageCount uint32 // total pages currently in the file, including 0 and 1

	freeListHead uint32 // on-disk free-list head pointer

	// mainBuf/standbyBuf absorb frees/allocates without immediate I/O. The
	// standby is flushed to a fresh on-disk free-list page when both are
	// full, or at Close.
	mainBuf    []uint32
	standbyBuf []uint32

	bp *bufferPool
}

// Open opens or creates a page file at path. With createIfMissing=false,
// opening a nonexistent file returns ErrNotFound. maxBufPages bounds the
// buffer pool's frame table (minimum 2; the meta page is permanently
// pinned).
func Open(path string, createIfMissing bool, maxBufPages int) (*Manager, error) {
	if maxBufPages < 2 {
		maxBufPages = 2
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)
	if fresh && !createIfMissing {
		return nil, ErrNotFound
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		f:    f,
		path: path,
		bp:   newBufferPool(maxBufPages),
	}

	if fresh {
		if err := m.initFresh(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		if err := m.loadMeta(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	// The meta page is permanently pinned for the lifetime of the manager.
	if _, err := m.bp.load(m, MetaPageID); err != nil {
		_ = f.Close()
		return nil, err
	}

	slog.Debug("page.Open", "path", path, "fresh", fresh, "pageCount", m.pageCount)
	return m, nil
}

// initFresh lays out a brand-new two-page file: meta + super.
func (m *Manager) initFresh() error {
	var meta [Size]byte
	putU32(meta[:], metaOffFreeListHead, 0)
	putU32(meta[:], metaOffFreePagesInHead, 0)
	putU32(meta[:], metaOffPageNum, firstDataPageID)
	if _, err := m.f.WriteAt(meta[:], int64(MetaPageID)*Size); err != nil {
		return err
	}

	var super [Size]byte
	if _, err := m.f.WriteAt(super[:], int64(SuperPageID)*Size); err != nil {
		return err
	}

	m.pageCount = firstDataPageID
	m.freeListHead = 0
	return nil
}

func (m *Manager) loadMeta() error {
	fi, err := m.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size()%Size != 0 {
		return ErrBadPageSize
	}

	var meta [Size]byte
	if _, err := m.f.ReadAt(meta[:], int64(MetaPageID)*Size); err != nil && err != io.EOF {
		return err
	}
	m.freeListHead = getU32(meta[:], metaOffFreeListHead)
	m.pageCount = getU32(meta[:], metaOffPageNum)
	if m.pageCount < firstDataPageID {
		return ErrCorrupt
	}
	return nil
}

func (m *Manager) readDisk(pgid uint32, dst []byte) error {
	_, err := m.f.ReadAt(dst, int64(pgid)*Size)
	if err == io.EOF {
		// Sparse tail: pages allocated but never written read back as zeros.
		return nil
	}
	return err
}

func (m *Manager) writeDisk(pgid uint32, src []byte) error {
	_, err := m.f.WriteAt(src, int64(pgid)*Size)
	return err
}

// saveMetaLocked persists the meta page. Caller must hold m.mu.
func (m *Manager) saveMetaLocked() error {
	var meta [Size]byte
	putU32(meta[:], metaOffFreeListHead, m.freeListHead)
	putU32(meta[:], metaOffFreePagesInHead, uint32(len(m.mainBuf)))
	putU32(meta[:], metaOffPageNum, m.pageCount)
	return m.writeDisk(MetaPageID, meta[:])
}

// Allocate reserves a fresh page id, preferring the in-memory free buffers,
// then the on-disk free list, then extending the file. Never returns 0 or 1.
func (m *Manager) Allocate() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocateLocked()
	slog.Debug("page.Allocate", "pgid", id)
	return id
}

// pullFreeListPageLocked consumes the disk free-list head page, loading its
// ids into mainBuf (and making the consumed list page itself available for
// reuse), then pops one id to return. Caller must hold m.mu.
func (m *Manager) pullFreeListPageLocked() uint32 {
	head := m.freeListHead
	var buf [Size]byte
	if err := m.readDisk(head, buf[:]); err != nil {
		fatalf("page: failed to read free-list page %d: %v", head, err)
	}

	for i := 0; i < freeListCapacity; i++ {
		id := getU32(buf[:], i*4)
		if id == 0 {
			break
		}
		m.mainBuf = append(m.mainBuf, id)
	}
	m.freeListHead = getU32(buf[:], freeListOffNextPointer)

	// The list page itself is now free; fold it into the buffer too.
	m.mainBuf = append(m.mainBuf, head)

	id := m.mainBuf[len(m.mainBuf)-1]
	m.mainBuf = m.mainBuf[:len(m.mainBuf)-1]
	return id
}

// Free returns pgid to the free list. Requires the page be unpinned;
// double-free is a fatal error.
func (m *Manager) Free(pgid uint32) {
	if pgid == MetaPageID || pgid == SuperPageID {
		fatalf("page: cannot free reserved page %d", pgid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bp.pinCount(pgid) > 0 {
		fatalf("page: cannot free pinned page %d", pgid)
	}
	if m.isFreeLocked(pgid) {
		fatalf("page: double free of page %d", pgid)
	}

	m.bp.evictIfPresent(m, pgid, false)

	if len(m.mainBuf) < freeListCapacity {
		m.mainBuf = append(m.mainBuf, pgid)
	} else {
		m.standbyBuf = append(m.standbyBuf, pgid)
		if len(m.standbyBuf) >= freeListCapacity {
			m.flushStandbyLocked()
		}
	}
	slog.Debug("page.Free", "pgid", pgid)
}

// isFreeLocked is a best-effort double-free detector over the in-memory
// buffers only (it does not walk the on-disk list, which would make every
// Free() call O(n)).
func (m *Manager) isFreeLocked(pgid uint32) bool {
	for _, id := range m.mainBuf {
		if id == pgid {
			return true
		}
	}
	for _, id := range m.standbyBuf {
		if id == pgid {
			return true
		}
	}
	return false
}

// flushStandbyLocked drains standbyBuf into on-disk free-list pages linked
// in front of the current head, one page per freeListCapacity ids. Each
// list page's own id is taken from the buffer being flushed, so no
// recursive allocation is needed. Caller must hold m.mu.
func (m *Manager) flushStandbyLocked() {
	for len(m.standbyBuf) > 0 {
		n := len(m.standbyBuf)
		if n > freeListCapacity+1 {
			n = freeListCapacity + 1
		}
		chunk := m.standbyBuf[len(m.standbyBuf)-n:]
		m.standbyBuf = m.standbyBuf[:len(m.standbyBuf)-n]

		listPageID := chunk[len(chunk)-1]
		ids := chunk[:len(chunk)-1]

		var buf [Size]byte
		for i, id := range ids {
			putU32(buf[:], i*4, id)
		}
		putU32(buf[:], freeListOffNextPointer, m.freeListHead)

		if err := m.writeDisk(listPageID, buf[:]); err != nil {
			fatalf("page: failed to flush free-list page: %v", err)
		}
		m.freeListHead = listPageID

		slog.Debug("page.flushStandby", "listPageID", listPageID, "ids", len(ids))
	}
}

// ShrinkToFit compacts the free list and truncates trailing free pages.
func (m *Manager) ShrinkToFit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	free := make(map[uint32]bool)
	for _, id := range m.mainBuf {
		free[id] = true
	}
	for _, id := range m.standbyBuf {
		free[id] = true
	}
	for p := m.freeListHead; p != 0; {
		var buf [Size]byte
		if err := m.readDisk(p, buf[:]); err != nil {
			return err
		}
		for i := 0; i < freeListCapacity; i++ {
			id := getU32(buf[:], i*4)
			if id == 0 {
				break
			}
			free[id] = true
		}
		free[p] = true
		p = getU32(buf[:], freeListOffNextPointer)
	}

	// Truncate any run of free pages at the tail of the file, then rebuild
	// the free state from scratch over the survivors: the old on-disk list
	// may have lived in (or pointed into) the truncated tail.
	for m.pageCount > firstDataPageID && free[m.pageCount-1] {
		m.pageCount--
	}
	surviving := make([]uint32, 0, len(free))
	for id := range free {
		if id < m.pageCount {
			surviving = append(surviving, id)
		}
	}
	sort.Slice(surviving, func(i, j int) bool { return surviving[i] < surviving[j] })

	m.freeListHead = 0
	m.mainBuf = m.mainBuf[:0]
	m.standbyBuf = m.standbyBuf[:0]
	for _, id := range surviving {
		if len(m.mainBuf) < freeListCapacity {
			m.mainBuf = append(m.mainBuf, id)
			continue
		}
		m.standbyBuf = append(m.standbyBuf, id)
		if len(m.standbyBuf) >= freeListCapacity {
			m.flushStandbyLocked()
		}
	}

	if err := m.f.Truncate(int64(m.pageCount) * Size); err != nil {
		return err
	}
	return m.saveMetaLocked()
}

// Close flushes the in-memory free buffers to the on-disk free list, every
// dirty frame, and the meta page, then closes the file.
func (m *Manager) Close() error {
	if err := m.bp.flushAll(m); err != nil {
		return err
	}
	m.mu.Lock()
	m.flushStandbyLocked()
	if len(m.mainBuf) > 0 {
		m.standbyBuf = append(m.standbyBuf, m.mainBuf...)
		m.mainBuf = m.mainBuf[:0]
		m.flushStandbyLocked()
	}
	err := m.saveMetaLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.f.Close()
}

// PageCount returns the current number of pages in the file, for tests and
// diagnostics.
func (m *Manager) PageCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCount
}

func getU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
