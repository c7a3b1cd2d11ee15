package hvloader

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize is the size of each per-processor buffer.
	DefaultBufferSize = 0x1000
	// DefaultSignalTimeout bounds the wait for one worker.
	DefaultSignalTimeout = 30 * time.Second
)

// Options configures a Loader. Zero values select the platform defaults.
type Options struct {
	LaunchBufferSize  int
	ControlBufferSize int
	SignalTimeout     time.Duration

	Executor   Executor
	Allocator  Allocator
	Enumerator Enumerator
	Logger     *zerolog.Logger
}

// CoreStatus is the outcome of one worker in a pass.
type CoreStatus struct {
	CPU    int         `json:"cpu"`
	State  WorkerState `json:"state"`
	Loaded bool        `json:"loaded"`
	Error  string      `json:"error,omitempty"`
}

// PassReport summarizes the most recent pass.
type PassReport struct {
	Phase    Phase         `json:"phase"`
	CPUs     []int         `json:"cpus"`
	Cores    []CoreStatus  `json:"cores"`
	Failures int           `json:"failures"`
	Duration time.Duration `json:"duration_ns"`
	Trace    []TraceEvent  `json:"trace,omitempty"`
}

// Loader brings a Runtime up on every online processor and tears it down
// again. Passes are serialized; within a pass exactly one worker runs at a
// time.
type Loader struct {
	mu sync.Mutex

	rt   Runtime
	opts Options
	log  zerolog.Logger

	cpus      []int // processors of the most recent bring-up pass
	resources map[int]*CoreResource
	passes    map[Phase]*PassContext
	reports   map[Phase]*PassReport
	stalled   error

	// stalledCPU's resource may still be written by its orphaned worker.
	stalledCPU int
}

// New returns a Loader for rt.
func New(rt Runtime, opts Options) (*Loader, error) {
	if rt == nil {
		return nil, fmt.Errorf("hvload: runtime is nil")
	}
	if opts.LaunchBufferSize < 0 || opts.ControlBufferSize < 0 {
		return nil, fmt.Errorf("hvload: buffer sizes must be positive")
	}
	if opts.LaunchBufferSize == 0 {
		opts.LaunchBufferSize = DefaultBufferSize
	}
	if opts.ControlBufferSize == 0 {
		opts.ControlBufferSize = DefaultBufferSize
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = DefaultSignalTimeout
	}
	if opts.Executor == nil {
		opts.Executor = NewAffinityExecutor()
	}
	if opts.Allocator == nil {
		opts.Allocator = NewPinnedAllocator()
	}
	if opts.Enumerator == nil {
		opts.Enumerator = SysfsEnumerator{}
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Loader{
		rt:        rt,
		opts:      opts,
		log:       log.With().Str("component", "hvload").Logger(),
		resources: make(map[int]*CoreResource),
		passes:    make(map[Phase]*PassContext),
		reports:   make(map[Phase]*PassReport),
	}, nil
}

// BringUp loads the runtime on every online processor, one at a time. Every
// processor is attempted even after a failure; if any failed, all processors
// are torn down and the returned error matches ErrAggregateFailure.
func (l *Loader) BringUp() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stalled != nil {
		return l.stalled
	}
	if len(l.resources) > 0 {
		return ErrAlreadyLoaded
	}

	cpus, err := l.opts.Enumerator.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("hvload: enumerate processors: %w", err)
	}
	if len(cpus) == 0 {
		return ErrNoProcessors
	}

	pass := newPassContext(PhaseLoad)
	l.beginReport(pass, cpus)
	l.log.Info().Ints("cpus", cpus).Msg("bring-up started")

	// A failed global load leaves nothing for a later teardown to visit.
	l.cpus = nil
	if err := l.rt.Load(); err != nil {
		recordResourceError()
		l.finishReport(pass)
		return &LoadError{Kind: KindRuntimeLoad, CPU: -1, Err: err}
	}

	l.cpus = cpus
	for _, cpu := range cpus {
		res := &CoreResource{CPU: cpu}
		l.resources[cpu] = res

		w, err := l.dispatch(pass, cpu, func() error { return l.loadCore(res) })
		if err != nil {
			return err
		}
		l.addCoreStatus(pass, w, res.LoadSucceeded)
		recordCoreLoad(res.LoadSucceeded)
		if w.err != nil {
			l.log.Warn().Err(w.err).Int("cpu", cpu).Msg("processor failed to load")
		} else {
			l.log.Debug().Int("cpu", cpu).Msg("processor loaded")
		}
	}

	// Read only after every processor was attempted.
	failures := pass.Failures.Read()
	l.finishReport(pass)
	recordPass(PhaseLoad, time.Since(pass.started), failures)

	if failures != 0 {
		l.log.Error().Int("failures", failures).Msg("bring-up failed, tearing down all processors")
		aggErr := &LoadError{Kind: KindAggregate, CPU: -1, Count: failures}
		if err := l.tearDown(); err != nil {
			return errors.Join(aggErr, err)
		}
		return aggErr
	}

	l.log.Info().Int("cpus", len(cpus)).Msg("bring-up complete")
	return nil
}

// TearDown unloads the runtime from every processor of the most recent
// bring-up pass and then runs the runtime's global unload. It always visits
// every processor; release failures are returned joined but never stop the
// pass. Calling TearDown again is safe and releases nothing.
func (l *Loader) TearDown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stalled != nil {
		return l.stalled
	}
	return l.tearDown()
}

func (l *Loader) tearDown() error {
	if l.cpus == nil {
		return nil
	}

	pass := newPassContext(PhaseUnload)
	l.beginReport(pass, l.cpus)
	l.log.Info().Ints("cpus", l.cpus).Msg("teardown started")

	var errs []error
	for _, cpu := range l.cpus {
		res := l.resources[cpu]
		w, err := l.dispatch(pass, cpu, func() error { return l.unloadCore(cpu, res) })
		if err != nil {
			return err
		}
		if w.err != nil {
			l.log.Warn().Err(w.err).Int("cpu", cpu).Msg("processor teardown reported errors")
			errs = append(errs, w.err)
		}
		// The worker never reached the release step (bind failure or panic).
		// Unmapping does not need the processor, so release from here.
		if res != nil && (res.Control != nil || res.Launch != nil) {
			if err := l.releaseBuffers(cpu, res); err != nil {
				errs = append(errs, err)
			}
		}
		delete(l.resources, cpu)
		l.addCoreStatus(pass, w, false)
	}

	if err := l.rt.Unload(); err != nil {
		recordResourceError()
		errs = append(errs, &LoadError{Kind: KindRuntimeUnload, CPU: -1, Err: err})
	}

	failures := pass.Failures.Read()
	l.finishReport(pass)
	recordPass(PhaseUnload, time.Since(pass.started), failures)
	l.log.Info().Int("failures", failures).Msg("teardown complete")
	return errors.Join(errs...)
}

// dispatch creates a worker for cpu, submits it and blocks until it signals.
// A worker that never signals stalls the loader for good.
func (l *Loader) dispatch(pass *PassContext, cpu int, op func() error) (*worker, error) {
	w := newWorker(cpu, pass)
	l.opts.Executor.Submit(cpu, w.task(op))

	if !pass.done.wait(l.opts.SignalTimeout) {
		recordSignalTimeout()
		err := &LoadError{Kind: KindSignalTimeout, CPU: cpu,
			Err: fmt.Errorf("no signal after %s", l.opts.SignalTimeout)}
		l.stalled = fmt.Errorf("%w: %w", ErrLoaderStalled, err)
		l.stalledCPU = cpu
		l.finishReport(pass)
		l.log.Error().Err(err).Int("cpu", cpu).Str("phase", pass.Phase.String()).Msg("worker stalled, aborting pass")
		return nil, err
	}
	return w, nil
}

// loadCore runs on cpu. On success res holds both buffers; on an allocation
// failure it holds neither.
func (l *Loader) loadCore(res *CoreResource) error {
	control, err := l.opts.Allocator.Allocate(l.opts.ControlBufferSize)
	if err != nil {
		return &LoadError{Kind: KindAllocation, CPU: res.CPU, Op: "control buffer", Err: cause(err)}
	}
	launch, err := l.opts.Allocator.Allocate(l.opts.LaunchBufferSize)
	if err != nil {
		if rerr := l.opts.Allocator.Release(control); rerr != nil {
			l.log.Warn().Err(rerr).Int("cpu", res.CPU).Msg("failed to release control buffer")
		}
		return &LoadError{Kind: KindAllocation, CPU: res.CPU, Op: "launch buffer", Err: cause(err)}
	}
	res.Control, res.Launch = control, launch

	if err := l.rt.CoreLoad(res); err != nil {
		res.LoadSucceeded = false
		return &LoadError{Kind: KindCoreLoad, CPU: res.CPU, Err: err}
	}
	res.LoadSucceeded = true
	return nil
}

// unloadCore runs on cpu. Only buffers still held by res are released, and
// each is cleared as it goes, so repeated teardowns never release twice.
func (l *Loader) unloadCore(cpu int, res *CoreResource) error {
	l.rt.CoreUnload(cpu)
	return l.releaseBuffers(cpu, res)
}

// releaseBuffers releases whatever res still holds and clears it.
func (l *Loader) releaseBuffers(cpu int, res *CoreResource) error {
	if res == nil {
		return nil
	}

	var errs []error
	if res.Control != nil {
		if err := l.opts.Allocator.Release(res.Control); err != nil {
			recordReleaseError()
			errs = append(errs, &LoadError{Kind: KindRelease, CPU: cpu, Op: "control buffer", Err: err})
		}
		res.Control = nil
	}
	if res.Launch != nil {
		if err := l.opts.Allocator.Release(res.Launch); err != nil {
			recordReleaseError()
			errs = append(errs, &LoadError{Kind: KindRelease, CPU: cpu, Op: "launch buffer", Err: err})
		}
		res.Launch = nil
	}
	res.LoadSucceeded = false
	return errors.Join(errs...)
}

// cause strips an allocator's own AllocationFailure wrapper so the loader can
// re-wrap it with the processor and buffer name.
func cause(err error) error {
	var le *LoadError
	if errors.As(err, &le) && le.Kind == KindAllocation && le.Err != nil {
		return le.Err
	}
	return err
}

func (l *Loader) beginReport(pass *PassContext, cpus []int) {
	l.passes[pass.Phase] = pass
	l.reports[pass.Phase] = &PassReport{Phase: pass.Phase, CPUs: append([]int(nil), cpus...)}
}

func (l *Loader) addCoreStatus(pass *PassContext, w *worker, loaded bool) {
	st := CoreStatus{CPU: w.cpu, State: w.outcome, Loaded: loaded}
	if w.err != nil {
		st.Error = w.err.Error()
	}
	r := l.reports[pass.Phase]
	r.Cores = append(r.Cores, st)
}

func (l *Loader) finishReport(pass *PassContext) {
	r := l.reports[pass.Phase]
	r.Failures = pass.Failures.Read()
	r.Duration = time.Since(pass.started)
}

// Report returns the summary of the most recent pass of the given phase.
func (l *Loader) Report(phase Phase) PassReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reports[phase]
	if !ok {
		return PassReport{Phase: phase}
	}
	out := *r
	out.CPUs = append([]int(nil), r.CPUs...)
	out.Cores = append([]CoreStatus(nil), r.Cores...)
	out.Trace = l.passes[phase].Trace()
	return out
}

// Failures returns the failure count of the most recent pass of the given
// phase.
func (l *Loader) Failures(phase Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.passes[phase]; ok {
		return p.Failures.Read()
	}
	return 0
}

// Trace returns the event trace of the most recent pass of the given phase.
func (l *Loader) Trace(phase Phase) []TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.passes[phase]; ok {
		return p.Trace()
	}
	return nil
}

// Resources returns a snapshot of the live per-processor resources, ordered
// by processor. Once the loader is stalled, the processor whose worker never
// signaled is left out.
func (l *Loader) Resources() []CoreResource {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CoreResource, 0, len(l.resources))
	for cpu, res := range l.resources {
		if l.stalled != nil && cpu == l.stalledCPU {
			continue
		}
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPU < out[j].CPU })
	return out
}
