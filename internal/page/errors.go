package page

import (
	"errors"
	"fmt"
)

// Errors returned at the page-manager interface. Allocate and Free return
// no error and abort the process on an invariant violation; Open, Close,
// ShrinkToFit and the handle accessors (GetPlain, GetSorted, AllocPlain,
// AllocSorted) return the disk I/O errors they meet.
var (
	ErrNotFound    = errors.New("page: file not found")
	ErrCorrupt     = errors.New("page: meta page is corrupt")
	ErrBadPageSize = errors.New("page: file size is not a multiple of the page size")
)

// fatalf aborts the process on an invariant violation. The page manager and
// the B+Tree built on top of it have no recoverable path once the on-disk
// layout is inconsistent, so abort rather than return a half-valid result.
func fatalf(format string, args ...any) {
	panic(fmt.Errorf(format, args...))
}
