package hvloader

import "fmt"

// Executor runs tasks on specific processors.
type Executor interface {
	// Submit runs task exactly once on a fresh execution unit bound to cpu.
	// bindErr is non-nil when the unit could not be bound; task still runs
	// (off-processor) so it can report the failure.
	Submit(cpu int, task func(bindErr error))
}

// WorkerState tracks a worker through one load or unload step.
type WorkerState int

const (
	WorkerCreated WorkerState = iota
	WorkerBound
	WorkerRunning
	WorkerSucceeded
	WorkerFailed
	WorkerSignaled
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "created"
	case WorkerBound:
		return "bound"
	case WorkerRunning:
		return "running"
	case WorkerSucceeded:
		return "succeeded"
	case WorkerFailed:
		return "failed"
	case WorkerSignaled:
		return "signaled"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// worker performs one step for one processor. Its fields are written only by
// the executing goroutine and read by the orchestrator after the rendezvous.
type worker struct {
	cpu  int
	pass *PassContext

	state   WorkerState
	outcome WorkerState // Succeeded or Failed, kept after Signaled
	err     error
}

func newWorker(cpu int, pass *PassContext) *worker {
	pass.record(cpu, EventCreated)
	return &worker{cpu: cpu, pass: pass, state: WorkerCreated}
}

// task adapts op to the Executor contract. The returned function signals the
// pass exactly once on every exit path, including a panic inside op.
func (w *worker) task(op func() error) func(bindErr error) {
	return func(bindErr error) {
		defer w.signal()
		defer func() {
			if r := recover(); r != nil {
				w.fail(fmt.Errorf("worker panic on cpu %d: %v", w.cpu, r))
			}
		}()

		if bindErr != nil {
			w.fail(&LoadError{Kind: KindAffinity, CPU: w.cpu, Err: bindErr})
			return
		}
		w.state = WorkerBound

		w.state = WorkerRunning
		if err := op(); err != nil {
			w.fail(err)
			return
		}
		w.state = WorkerSucceeded
		w.outcome = WorkerSucceeded
	}
}

func (w *worker) fail(err error) {
	w.err = err
	w.state = WorkerFailed
	w.outcome = WorkerFailed
	w.pass.Failures.Increment()
}

func (w *worker) signal() {
	w.state = WorkerSignaled
	w.pass.record(w.cpu, EventSignaled)
	w.pass.done.signal()
}
