// Package hvloader brings a hypervisor core runtime online on every logical
// processor of a Linux machine and tears it down again.
//
// Bring-up is all-or-nothing even though the work happens one processor at a
// time: each processor gets a worker pinned to it, which allocates a launch
// buffer and a control buffer (zero-filled, locked, physically contiguous)
// and hands them to the runtime. Failures are counted across the pass; if any
// processor failed, every processor is torn down before BringUp returns.
//
// # Requirements
//
//   - Linux (sched_setaffinity, /proc/self/pagemap)
//   - CAP_SYS_ADMIN to read physical frame numbers, CAP_IPC_LOCK (or a large
//     enough RLIMIT_MEMLOCK) to lock buffers
//   - A processor with VT-x or AMD-V for a real runtime
//
// # Basic Usage
//
// Check if the platform is supported:
//
//	supported, err := hvloader.Supported()
//	if err != nil || !supported {
//		log.Fatal("hardware virtualization not available")
//	}
//
// Bring a runtime up on every online processor and tear it down:
//
//	ldr, err := hvloader.New(rt, hvloader.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := ldr.BringUp(); err != nil {
//		// Every processor has already been torn down.
//		log.Fatal(err)
//	}
//	defer ldr.TearDown()
//
// # Runtime Contract
//
// A Runtime sees Load once, CoreLoad on each processor in ascending order,
// CoreUnload on each processor (including ones whose CoreLoad failed or never
// ran) and Unload once. CoreLoad and CoreUnload are called on the processor
// they concern and never concurrently with each other.
//
// # Error Handling
//
// Errors are *LoadError values carrying a Kind. Use errors.Is with the Err*
// sentinels:
//
//	if errors.Is(err, hvloader.ErrAggregateFailure) {
//		// at least one processor failed; all were rolled back
//	}
//
// A worker that never signals completion within Options.SignalTimeout aborts
// the pass with ErrWorkerSignalTimeout and leaves the Loader stalled.
//
// # Platform Support
//
// Linux only. Other platforms build, but allocation and affinity binding
// fail with ErrUnsupportedPlatform.
package hvloader
