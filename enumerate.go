package hvloader

import (
	"fmt"
	"os"
	"strings"

	"k8s.io/utils/cpuset"
)

// maxCPUs matches the kernel's default CPU_SETSIZE.
const maxCPUs = 1024

// DefaultOnlinePath is where Linux publishes the online processor list.
const DefaultOnlinePath = "/sys/devices/system/cpu/online"

// Enumerator yields the online logical processors for one pass, in ascending
// order and without duplicates.
type Enumerator interface {
	OnlineCPUs() ([]int, error)
}

// CPUList is a fixed set of processors.
type CPUList []int

// OnlineCPUs returns the list sorted and de-duplicated.
func (l CPUList) OnlineCPUs() ([]int, error) {
	cpus := cpuset.New(l...).List()
	if len(cpus) == 0 {
		return nil, ErrNoProcessors
	}
	return cpus, nil
}

// SysfsEnumerator reads the kernel's online processor list. Restrict, when
// set, is a cpulist (e.g. "0-3,6") the result is intersected with.
type SysfsEnumerator struct {
	Path     string
	Restrict string
}

func (e SysfsEnumerator) OnlineCPUs() ([]int, error) {
	path := e.Path
	if path == "" {
		path = DefaultOnlinePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read online processors: %w", err)
	}
	online, err := cpuset.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if e.Restrict != "" {
		restrict, err := cpuset.Parse(strings.TrimSpace(e.Restrict))
		if err != nil {
			return nil, fmt.Errorf("parse cpu restriction %q: %w", e.Restrict, err)
		}
		online = online.Intersection(restrict)
	}
	if online.IsEmpty() {
		return nil, ErrNoProcessors
	}
	cpus := online.List()
	if last := cpus[len(cpus)-1]; last >= maxCPUs {
		return nil, fmt.Errorf("cpu %d exceeds supported maximum %d", last, maxCPUs-1)
	}
	return cpus, nil
}

// ParseCPUList parses a kernel cpulist such as "0-3,6" into ascending
// processor numbers.
func ParseCPUList(s string) ([]int, error) {
	set, err := cpuset.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return set.List(), nil
}
