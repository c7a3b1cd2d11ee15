//go:build !linux

package hvloader

import "errors"

const platformSupported = false

// PinnedAllocator is unavailable on this platform.
type PinnedAllocator struct{}

// NewPinnedAllocator returns an allocator that always fails on this platform.
func NewPinnedAllocator() *PinnedAllocator { return &PinnedAllocator{} }

func (a *PinnedAllocator) Allocate(size int) (*Buffer, error) {
	return nil, &LoadError{Kind: KindAllocation, CPU: -1, Err: ErrUnsupportedPlatform}
}

func (a *PinnedAllocator) Release(b *Buffer) error {
	return errors.New("hvload: release: not supported on this platform")
}

// AffinityExecutor is unavailable on this platform.
type AffinityExecutor struct{}

// NewAffinityExecutor returns an executor whose tasks always fail to bind.
func NewAffinityExecutor() AffinityExecutor { return AffinityExecutor{} }

func (AffinityExecutor) Submit(cpu int, task func(bindErr error)) {
	go task(ErrUnsupportedPlatform)
}

// AllowedCPUs returns an error on this platform.
func AllowedCPUs() ([]int, error) {
	return nil, ErrUnsupportedPlatform
}
