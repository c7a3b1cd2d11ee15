//go:build linux

package hvloader

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// AffinityExecutor runs each task on a dedicated OS thread pinned to one
// processor.
type AffinityExecutor struct{}

// NewAffinityExecutor returns the platform executor.
func NewAffinityExecutor() AffinityExecutor { return AffinityExecutor{} }

// Submit starts task on a new goroutine locked to its OS thread and bound to
// cpu. The goroutine exits without unlocking, so the runtime retires the
// thread and its narrowed affinity mask instead of reusing it.
func (AffinityExecutor) Submit(cpu int, task func(bindErr error)) {
	go func() {
		runtime.LockOSThread()
		task(pinCurrentThread(cpu))
	}()
}

func pinCurrentThread(cpu int) error {
	if cpu < 0 || cpu >= maxCPUs {
		return fmt.Errorf("cpu %d out of range [0,%d)", cpu, maxCPUs)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}

	var got unix.CPUSet
	if err := unix.SchedGetaffinity(0, &got); err != nil {
		return fmt.Errorf("sched_getaffinity: %w", err)
	}
	if got.Count() != 1 || !got.IsSet(cpu) {
		return fmt.Errorf("thread not bound to cpu %d after sched_setaffinity", cpu)
	}
	return nil
}

// AllowedCPUs returns the processors the calling thread may run on.
func AllowedCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var cpus []int
	for cpu := 0; cpu < maxCPUs && len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
