//go:build linux

package hvloader

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestPinnedAllocatorHiddenFrames(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("physical frames are visible to root")
	}

	a := NewPinnedAllocator()
	b, err := a.Allocate(DefaultBufferSize)
	if err == nil {
		_ = a.Release(b)
		t.Skip("physical frames visible without root")
	}
	if !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("Allocate() error = %v, want AllocationFailure", err)
	}
	if strings.Contains(err.Error(), "mmap ") {
		t.Skipf("mapping refused: %v", err)
	}
	if !errors.Is(err, errPhysUnavailable) {
		t.Errorf("Allocate() error = %v, want hidden frame error", err)
	}
	if strings.Contains(err.Error(), "munmap") {
		t.Errorf("cleanup of the failed mapping reported an error: %v", err)
	}
	if len(a.live) != 0 {
		t.Errorf("failed allocation left %d live mapping(s)", len(a.live))
	}
}
