package hvloader

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Kind classifies a loader failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAllocation
	KindCoreLoad
	KindAggregate
	KindSignalTimeout
	KindRuntimeLoad
	KindRuntimeUnload
	KindRelease
	KindAffinity
)

func (k Kind) String() string {
	switch k {
	case KindAllocation:
		return "AllocationFailure"
	case KindCoreLoad:
		return "CoreLoadFailure"
	case KindAggregate:
		return "AggregateFailure"
	case KindSignalTimeout:
		return "WorkerSignalTimeout"
	case KindRuntimeLoad:
		return "RuntimeLoadFailure"
	case KindRuntimeUnload:
		return "RuntimeUnloadFailure"
	case KindRelease:
		return "ReleaseFailure"
	case KindAffinity:
		return "AffinityFailure"
	default:
		return "UnknownFailure"
	}
}

// LoadError describes a failure during a bring-up or teardown pass.
// CPU is -1 when the failure is not tied to one processor.
type LoadError struct {
	Kind  Kind
	CPU   int
	Count int    // failed processors, AggregateFailure only
	Op    string // e.g. "control buffer", "launch buffer"
	Err   error

	message string // Optional custom message for sentinels
}

func (e *LoadError) Error() string {
	if e.message != "" {
		return e.message
	}

	// Security: Check if we should sanitize error messages
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// detailedError provides full error context for development
func (e *LoadError) detailedError() string {
	var msg string
	switch e.Kind {
	case KindAllocation:
		msg = fmt.Sprintf("hvload: cpu %d: %s allocation failed (AllocationFailure) - physically contiguous memory unavailable", e.CPU, e.op())
	case KindCoreLoad:
		msg = fmt.Sprintf("hvload: cpu %d: core runtime rejected load (CoreLoadFailure)", e.CPU)
	case KindAggregate:
		msg = fmt.Sprintf("hvload: %d processor(s) failed to load (AggregateFailure) - all processors were torn down", e.Count)
	case KindSignalTimeout:
		msg = fmt.Sprintf("hvload: cpu %d: worker never signaled completion (WorkerSignalTimeout) - pass aborted", e.CPU)
	case KindRuntimeLoad:
		msg = "hvload: core runtime global load failed (RuntimeLoadFailure)"
	case KindRuntimeUnload:
		msg = "hvload: core runtime global unload failed (RuntimeUnloadFailure)"
	case KindRelease:
		msg = fmt.Sprintf("hvload: cpu %d: %s release failed (ReleaseFailure)", e.CPU, e.op())
	case KindAffinity:
		msg = fmt.Sprintf("hvload: cpu %d: could not bind worker to processor (AffinityFailure)", e.CPU)
	default:
		msg = fmt.Sprintf("hvload: cpu %d: unknown failure", e.CPU)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// sanitizedError provides minimal error information for production
func (e *LoadError) sanitizedError() string {
	switch e.Kind {
	case KindAllocation:
		return "hvload: allocation failed"
	case KindCoreLoad:
		return "hvload: core load failed"
	case KindAggregate:
		return "hvload: bring-up failed"
	case KindSignalTimeout:
		return "hvload: worker timeout"
	case KindRuntimeLoad:
		return "hvload: runtime load failed"
	case KindRuntimeUnload:
		return "hvload: runtime unload failed"
	case KindRelease:
		return "hvload: release failed"
	case KindAffinity:
		return "hvload: affinity failed"
	default:
		return "hvload: loader error"
	}
}

func (e *LoadError) op() string {
	if e.Op == "" {
		return "buffer"
	}
	return e.Op
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches any LoadError of the same kind, so callers can test against the
// Err* sentinels with errors.Is.
func (e *LoadError) Is(target error) bool {
	var t *LoadError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind != KindUnknown && t.Kind == e.Kind
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("HVLOAD_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("HVLOAD_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

// Common specific errors for API consumers
var (
	ErrAllocationFailure   = &LoadError{Kind: KindAllocation, CPU: -1, message: "hvload: allocation failed"}
	ErrCoreLoadFailure     = &LoadError{Kind: KindCoreLoad, CPU: -1, message: "hvload: core load failed"}
	ErrAggregateFailure    = &LoadError{Kind: KindAggregate, CPU: -1, message: "hvload: bring-up failed"}
	ErrWorkerSignalTimeout = &LoadError{Kind: KindSignalTimeout, CPU: -1, message: "hvload: worker signal timeout"}
	ErrReleaseFailure      = &LoadError{Kind: KindRelease, CPU: -1, message: "hvload: release failed"}
	ErrAffinityFailure     = &LoadError{Kind: KindAffinity, CPU: -1, message: "hvload: affinity failed"}

	ErrAlreadyLoaded       = errors.New("hvload: processors already loaded; tear down first")
	ErrNoProcessors        = errors.New("hvload: no online processors")
	ErrLoaderStalled       = errors.New("hvload: loader stalled by an unresponsive worker")
	ErrUnsupportedPlatform = errors.New("hvload: not supported on this platform")
)
