//go:build linux

package hvloader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	pagemapPath     = "/proc/self/pagemap"
	pagemapPresent  = uint64(1) << 63
	pagemapPFNMask  = (uint64(1) << 55) - 1
	pagemapEntryLen = 8
)

var (
	errPhysUnavailable = errors.New("physical frame number unavailable (needs CAP_SYS_ADMIN)")
	errNotContiguous   = errors.New("pages are not physically contiguous")
	errForeignBuffer   = errors.New("buffer was not allocated by this allocator or was already released")
)

// PinnedAllocator allocates locked anonymous mappings and resolves their
// physical addresses through /proc/self/pagemap.
type PinnedAllocator struct {
	mu   sync.Mutex
	live map[uintptr]struct{}
}

// NewPinnedAllocator returns an allocator backed by locked anonymous memory.
func NewPinnedAllocator() *PinnedAllocator {
	return &PinnedAllocator{live: make(map[uintptr]struct{})}
}

// Allocate maps size bytes rounded up to whole pages. Anonymous mappings are
// zero-filled by the kernel; MAP_LOCKED keeps the frames resident so the
// physical addresses stay valid until Release.
func (a *PinnedAllocator) Allocate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, allocErr(fmt.Errorf("invalid size %d", size))
	}
	// Security: Prevent integer overflow vulnerabilities
	if size > math.MaxInt32 {
		return nil, allocErr(fmt.Errorf("size too large (max %d bytes)", math.MaxInt32))
	}

	length := roundUpToPage(size)
	mem, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_POPULATE|unix.MAP_LOCKED)
	if err != nil {
		recordResourceError()
		return nil, allocErr(fmt.Errorf("mmap %d bytes: %w", length, err))
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	phys, err := translate(base, length)
	if err != nil {
		if merr := unix.Munmap(mem); merr != nil {
			err = errors.Join(err, fmt.Errorf("munmap %d bytes: %w", length, merr))
		}
		recordResourceError()
		return nil, allocErr(err)
	}

	a.mu.Lock()
	a.live[base] = struct{}{}
	a.mu.Unlock()

	recordAllocation()
	return &Buffer{Data: mem[:size], Phys: phys, mapping: mem}, nil
}

// Release unmaps b. A buffer is unmapped at most once.
func (a *PinnedAllocator) Release(b *Buffer) error {
	if b == nil || len(b.mapping) == 0 {
		return errForeignBuffer
	}
	base := uintptr(unsafe.Pointer(&b.mapping[0]))

	a.mu.Lock()
	_, ok := a.live[base]
	delete(a.live, base)
	a.mu.Unlock()
	if !ok {
		return errForeignBuffer
	}

	mapping := b.mapping
	b.mapping, b.Data, b.Phys = nil, nil, 0
	if err := unix.Munmap(mapping); err != nil {
		recordResourceError()
		return fmt.Errorf("munmap %d bytes: %w", len(mapping), err)
	}
	recordRelease()
	return nil
}

// translate returns the physical address of base and checks that every page
// in [base, base+length) maps to the frame following its predecessor.
func translate(base uintptr, length int) (uint64, error) {
	ps := uint64(pageSize())
	if !isPageAligned(uint64(base)) {
		return 0, fmt.Errorf("mapping base not page-aligned: 0x%x", base)
	}

	fd, err := unix.Open(pagemapPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", pagemapPath, err)
	}
	defer unix.Close(fd)

	pages := uint64(length) / ps
	var first uint64
	for i := uint64(0); i < pages; i++ {
		pfn, err := readPFN(fd, (uint64(base)/ps)+i)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = pfn
			continue
		}
		if pfn != first+i {
			return 0, errNotContiguous
		}
	}
	return first * ps, nil
}

func readPFN(fd int, vpn uint64) (uint64, error) {
	var entry [pagemapEntryLen]byte
	n, err := unix.Pread(fd, entry[:], int64(vpn*pagemapEntryLen))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", pagemapPath, err)
	}
	if n != pagemapEntryLen {
		return 0, fmt.Errorf("short read from %s: %d bytes", pagemapPath, n)
	}
	v := binary.LittleEndian.Uint64(entry[:])
	if v&pagemapPresent == 0 {
		return 0, fmt.Errorf("page 0x%x not present", vpn)
	}
	pfn := v & pagemapPFNMask
	if pfn == 0 {
		return 0, errPhysUnavailable
	}
	return pfn, nil
}

func allocErr(err error) error {
	return &LoadError{Kind: KindAllocation, CPU: -1, Err: err}
}
