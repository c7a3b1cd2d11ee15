package hvloader

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Runtime is the hypervisor core consumed by the loader. The call sequence is
// Load once, CoreLoad on each processor, CoreUnload on each processor, Unload
// once. CoreLoad and CoreUnload run on the processor they concern.
type Runtime interface {
	// Load performs process-wide setup before any processor is attempted.
	Load() error
	// CoreLoad enters virtualization on the calling processor using res.
	CoreLoad(res *CoreResource) error
	// CoreUnload leaves virtualization on the calling processor. It must
	// tolerate processors whose CoreLoad never ran or failed.
	CoreUnload(cpu int)
	// Unload performs process-wide teardown after every processor is done.
	Unload() error
}

// ProbeRevisionID is stamped into the first word of each launch buffer by
// ProbeRuntime, where a VMX runtime would place the VMCS revision identifier.
const ProbeRevisionID uint32 = 0x72737479

// ProbeRuntime checks the resources the loader hands over without entering
// virtualization. It backs dry runs of the loader on real hardware.
type ProbeRuntime struct {
	LaunchSize  int
	ControlSize int

	mu     sync.Mutex
	loaded map[int]bool
	global bool
}

// NewProbeRuntime returns a probe expecting buffers of the given sizes.
func NewProbeRuntime(launchSize, controlSize int) *ProbeRuntime {
	return &ProbeRuntime{LaunchSize: launchSize, ControlSize: controlSize}
}

func (p *ProbeRuntime) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = make(map[int]bool)
	p.global = true
	return nil
}

func (p *ProbeRuntime) CoreLoad(res *CoreResource) error {
	if !res.Allocated() {
		return fmt.Errorf("probe: cpu %d: resource not allocated", res.CPU)
	}
	if err := checkBuffer("launch", res.Launch, p.LaunchSize); err != nil {
		return fmt.Errorf("probe: cpu %d: %w", res.CPU, err)
	}
	if err := checkBuffer("control", res.Control, p.ControlSize); err != nil {
		return fmt.Errorf("probe: cpu %d: %w", res.CPU, err)
	}
	if len(res.Launch.Data) >= 4 {
		binary.LittleEndian.PutUint32(res.Launch.Data, ProbeRevisionID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.global {
		return fmt.Errorf("probe: cpu %d: core load before global load", res.CPU)
	}
	if p.loaded[res.CPU] {
		return fmt.Errorf("probe: cpu %d: already loaded", res.CPU)
	}
	p.loaded[res.CPU] = true
	return nil
}

func (p *ProbeRuntime) CoreUnload(cpu int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaded, cpu)
}

func (p *ProbeRuntime) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = false
	if n := len(p.loaded); n != 0 {
		return fmt.Errorf("probe: %d processor(s) still loaded at global unload", n)
	}
	return nil
}

// Loaded returns the number of processors currently loaded.
func (p *ProbeRuntime) Loaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loaded)
}

func checkBuffer(name string, b *Buffer, want int) error {
	if want > 0 && b.Size() != want {
		return fmt.Errorf("%s buffer is %d bytes, want %d", name, b.Size(), want)
	}
	if b.Phys == 0 || !isPageAligned(b.Phys) {
		return fmt.Errorf("%s buffer physical address 0x%x not page-aligned", name, b.Phys)
	}
	for i, v := range b.Data {
		if v != 0 {
			return fmt.Errorf("%s buffer not zeroed at offset %d", name, i)
		}
	}
	return nil
}
