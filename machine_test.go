package hvloader

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testLaunchSize  = 0x1000
	testControlSize = 0x2000
)

type allocKey struct {
	cpu  int
	size int
}

// machine is a fake platform: it enumerates processors, runs workers on
// goroutines, hands out heap buffers with fake physical addresses and plays
// the core runtime. Every call is recorded.
type machine struct {
	mu sync.Mutex

	cpus    []int
	current int // processor of the worker currently running

	failAlloc     map[allocKey]bool
	failCoreLoad  map[int]bool
	panicCoreLoad map[int]bool
	failBind      map[int]bool
	silent        map[int]bool // task is never run
	failRelease   bool
	loadErr       error

	nextPhys      uint64
	live          map[*Buffer]int
	allocs        []allocKey
	releases      []allocKey
	doubleRelease int

	loads       int
	unloads     int
	coreLoads   []int
	coreUnloads []int
}

func newMachine(cpus ...int) *machine {
	return &machine{
		cpus:          cpus,
		current:       -1,
		failAlloc:     make(map[allocKey]bool),
		failCoreLoad:  make(map[int]bool),
		panicCoreLoad: make(map[int]bool),
		failBind:      make(map[int]bool),
		silent:        make(map[int]bool),
		nextPhys:      0x100000,
		live:          make(map[*Buffer]int),
	}
}

func (m *machine) loader(t *testing.T) *Loader {
	t.Helper()
	ldr, err := New(m, Options{
		LaunchBufferSize:  testLaunchSize,
		ControlBufferSize: testControlSize,
		SignalTimeout:     2 * time.Second,
		Executor:          m,
		Allocator:         m,
		Enumerator:        CPUList(m.cpus),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return ldr
}

// Executor

func (m *machine) Submit(cpu int, task func(bindErr error)) {
	m.mu.Lock()
	silent := m.silent[cpu]
	var bindErr error
	if m.failBind[cpu] {
		bindErr = fmt.Errorf("cpu %d refused binding", cpu)
	}
	m.mu.Unlock()
	if silent {
		return
	}
	go func() {
		m.mu.Lock()
		m.current = cpu
		m.mu.Unlock()
		task(bindErr)
	}()
}

// Allocator

func (m *machine) Allocate(size int) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allocKey{cpu: m.current, size: size}
	if m.failAlloc[key] {
		return nil, &LoadError{Kind: KindAllocation, CPU: -1, Err: errors.New("out of contiguous memory")}
	}
	b := &Buffer{Data: make([]byte, size), Phys: m.nextPhys}
	m.nextPhys += uint64(roundUpToPage(size))
	m.live[b] = m.current
	m.allocs = append(m.allocs, key)
	return b, nil
}

func (m *machine) Release(b *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpu, ok := m.live[b]
	if !ok {
		m.doubleRelease++
		return errors.New("buffer not live")
	}
	delete(m.live, b)
	m.releases = append(m.releases, allocKey{cpu: cpu, size: b.Size()})
	if m.failRelease {
		return errors.New("release refused")
	}
	return nil
}

// Runtime

func (m *machine) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.loadErr
}

func (m *machine) CoreLoad(res *CoreResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !res.Allocated() {
		return errors.New("CoreLoad called without both buffers")
	}
	m.coreLoads = append(m.coreLoads, res.CPU)
	if m.panicCoreLoad[res.CPU] {
		panic("runtime fault")
	}
	if m.failCoreLoad[res.CPU] {
		return errors.New("vmxon failed")
	}
	return nil
}

func (m *machine) CoreUnload(cpu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coreUnloads = append(m.coreUnloads, cpu)
}

func (m *machine) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloads++
	return nil
}

func (m *machine) liveBuffers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
