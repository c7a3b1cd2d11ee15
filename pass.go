package hvloader

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase identifies which sweep a pass performs.
type Phase int

const (
	PhaseLoad Phase = iota
	PhaseUnload
)

func (p Phase) String() string {
	if p == PhaseUnload {
		return "unload"
	}
	return "load"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// FailureCounter counts failed workers within one pass. Workers increment it
// from their own processors while the orchestrator reads it from wherever it
// runs, so every access is atomic.
type FailureCounter struct {
	n atomic.Int64
}

func (c *FailureCounter) Increment() { c.n.Add(1) }
func (c *FailureCounter) Reset()     { c.n.Store(0) }
func (c *FailureCounter) Read() int  { return int(c.n.Load()) }

// rendezvous is a single-slot completion signal consumed once per processor.
type rendezvous struct {
	ch chan struct{}
}

func newRendezvous() *rendezvous {
	return &rendezvous{ch: make(chan struct{}, 1)}
}

func (r *rendezvous) signal() {
	r.ch <- struct{}{}
}

// wait blocks until the current worker signals. It reports false when the
// timeout expires first.
func (r *rendezvous) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.ch:
		return true
	case <-timer.C:
		return false
	}
}

// EventKind marks a point in a worker's life recorded in the pass trace.
type EventKind int

const (
	EventCreated EventKind = iota
	EventSignaled
)

func (k EventKind) String() string {
	if k == EventSignaled {
		return "signaled"
	}
	return "created"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TraceEvent is one entry in a pass trace. Seq is strictly increasing across
// the pass.
type TraceEvent struct {
	Seq   uint64    `json:"seq"`
	Phase Phase     `json:"phase"`
	CPU   int       `json:"cpu"`
	Kind  EventKind `json:"kind"`
}

// PassContext is the state shared by the orchestrator and every worker for
// the duration of one pass.
type PassContext struct {
	Phase    Phase
	Failures FailureCounter

	done    *rendezvous
	started time.Time

	mu    sync.Mutex
	seq   uint64
	trace []TraceEvent
}

func newPassContext(phase Phase) *PassContext {
	p := &PassContext{
		Phase:   phase,
		done:    newRendezvous(),
		started: time.Now(),
	}
	p.Failures.Reset()
	return p
}

func (p *PassContext) record(cpu int, kind EventKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.trace = append(p.trace, TraceEvent{Seq: p.seq, Phase: p.Phase, CPU: cpu, Kind: kind})
}

// Trace returns a copy of the events recorded so far.
func (p *PassContext) Trace() []TraceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TraceEvent, len(p.trace))
	copy(out, p.trace)
	return out
}
