package hvloader

import (
	"os"
	"sync"
)

// Buffer is a zero-filled, physically contiguous region handed to the core
// runtime. Phys is the physical address of Data[0].
type Buffer struct {
	Data []byte
	Phys uint64

	mapping []byte // full page-rounded mapping backing Data
}

// Size returns the usable length of the buffer.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// CoreResource is the per-processor pair of control structures. Control and
// Launch are either both nil or both valid.
type CoreResource struct {
	CPU           int
	Launch        *Buffer // used once to enter virtualization mode
	Control       *Buffer // holds the processor's ongoing virtualization state
	LoadSucceeded bool
}

// Allocated reports whether both buffers are present.
func (r *CoreResource) Allocated() bool {
	return r != nil && r.Launch != nil && r.Control != nil
}

// Allocator hands out physically contiguous buffers.
type Allocator interface {
	// Allocate returns a zero-filled buffer of exactly size bytes or fails
	// with an error matching ErrAllocationFailure.
	Allocate(size int) (*Buffer, error)
	// Release returns a buffer obtained from Allocate.
	Release(b *Buffer) error
}

var (
	cachedPageSize int
	cachedPageMask uint64 // For fast alignment checks: addr & mask == 0
	pageSizeOnce   sync.Once
)

func initPageSize() {
	cachedPageSize = os.Getpagesize()
	cachedPageMask = uint64(cachedPageSize - 1)
}

// pageSize returns the system page size, cached for performance
func pageSize() int {
	pageSizeOnce.Do(initPageSize)
	return cachedPageSize
}

// isPageAligned returns true if addr is page-aligned (fast path)
func isPageAligned(addr uint64) bool {
	pageSizeOnce.Do(initPageSize)
	return addr&cachedPageMask == 0
}

// roundUpToPage rounds n up to a whole number of pages.
func roundUpToPage(n int) int {
	ps := pageSize()
	return (n + ps - 1) &^ (ps - 1)
}
