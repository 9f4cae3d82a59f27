// Package blob stores arbitrary-length byte values as a chain of plain
// pages, for data too large (or too variable) to live inline in a B+Tree
// leaf slot: table schemas and oversized column values.
//
// Each page in the chain holds a 4-byte payload length, up to
// page.Size-8 bytes of payload, and a 4-byte pointer to the next page (0
// if this is the last page).
package blob

import (
	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/spage"
)

const (
	offPayloadLen = 0
	offPayload    = 4
	chunkHeader   = 8 // 4-byte length prefix + 4-byte next-pointer suffix
)

func chunkCapacity() int { return page.Size - chunkHeader }

// Write stores data as a freshly allocated chain of pages and returns the
// id of its head page.
func Write(pm *page.Manager, data []byte) (uint32, error) {
	var headID uint32
	var prevHandle *page.Handle
	remaining := data

	for {
		chunk := remaining
		more := false
		if len(chunk) > chunkCapacity() {
			chunk = remaining[:chunkCapacity()]
			more = true
		}

		h, err := pm.AllocPlain()
		if err != nil {
			if prevHandle != nil {
				prevHandle.Release(true)
			}
			return 0, err
		}
		pp := spage.NewPlain(h.Bytes())
		pp.PutU32(offPayloadLen, uint32(len(chunk)))
		pp.Write(offPayload, chunk)
		h.MarkDirty()

		if prevHandle == nil {
			headID = h.ID()
		} else {
			linkNext(prevHandle, h.ID())
			prevHandle.Release(true)
		}
		prevHandle = h

		remaining = remaining[len(chunk):]
		if !more {
			break
		}
	}
	prevHandle.Release(true)
	return headID, nil
}

// Read reassembles the full value stored starting at headID.
func Read(pm *page.Manager, headID uint32) ([]byte, error) {
	var out []byte
	id := headID
	for id != 0 {
		h, err := pm.GetPlain(id)
		if err != nil {
			return nil, err
		}
		pp := spage.NewPlain(h.Bytes())
		n := pp.GetU32(offPayloadLen)
		out = append(out, pp.Read(offPayload, int(n))...)
		next := nextPointer(pp)
		h.Release(false)
		id = next
	}
	return out, nil
}

// Rewrite replaces the value stored at headID with data, freeing or
// extending the chain as needed, and returns the (possibly unchanged)
// head page id.
func Rewrite(pm *page.Manager, headID uint32, data []byte) (uint32, error) {
	if err := Destroy(pm, headID); err != nil {
		return 0, err
	}
	return Write(pm, data)
}

// Destroy frees every page in the chain starting at headID.
func Destroy(pm *page.Manager, headID uint32) error {
	id := headID
	for id != 0 {
		h, err := pm.GetPlain(id)
		if err != nil {
			return err
		}
		pp := spage.NewPlain(h.Bytes())
		next := nextPointer(pp)
		h.Release(false)
		pm.Free(id)
		id = next
	}
	return nil
}

func linkNext(h *page.Handle, next uint32) {
	pp := spage.NewPlain(h.Bytes())
	pp.PutU32(page.Size-4, next)
}

func nextPointer(pp *spage.PlainPage) uint32 {
	return pp.GetU32(page.Size - 4)
}
