package hvloader

import "testing"

func TestPageHelpers(t *testing.T) {
	ps := pageSize()
	if ps <= 0 || ps&(ps-1) != 0 {
		t.Fatalf("pageSize() = %d, want a power of two", ps)
	}

	tests := []struct {
		n    int
		want int
	}{
		{1, ps},
		{ps, ps},
		{ps + 1, 2 * ps},
		{3 * ps, 3 * ps},
	}
	for _, tt := range tests {
		if got := roundUpToPage(tt.n); got != tt.want {
			t.Errorf("roundUpToPage(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}

	if !isPageAligned(uint64(4 * ps)) {
		t.Error("isPageAligned(4*pageSize) = false")
	}
	if isPageAligned(uint64(ps + 8)) {
		t.Error("isPageAligned(pageSize+8) = true")
	}
}

func TestCoreResourceAllocated(t *testing.T) {
	var nilRes *CoreResource
	if nilRes.Allocated() {
		t.Error("nil resource reports allocated")
	}
	res := &CoreResource{CPU: 0, Launch: &Buffer{Data: make([]byte, 8)}}
	if res.Allocated() {
		t.Error("resource with one buffer reports allocated")
	}
	res.Control = &Buffer{}
	if !res.Allocated() {
		t.Error("resource with both buffers reports unallocated")
	}

	var nilBuf *Buffer
	if nilBuf.Size() != 0 || res.Launch.Size() != 8 {
		t.Error("Buffer.Size()")
	}
}
