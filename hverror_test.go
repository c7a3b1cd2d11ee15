package hvloader

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestLoadError(t *testing.T) {
	t.Setenv("HVLOAD_ENV", "")
	t.Setenv("HVLOAD_DEBUG", "")

	tests := []struct {
		name string
		err  *LoadError
		want string
	}{
		{
			name: "allocation",
			err:  &LoadError{Kind: KindAllocation, CPU: 2, Op: "control buffer", Err: errors.New("ENOMEM")},
			want: "hvload: cpu 2: control buffer allocation failed (AllocationFailure) - physically contiguous memory unavailable: ENOMEM",
		},
		{
			name: "core load",
			err:  &LoadError{Kind: KindCoreLoad, CPU: 0},
			want: "hvload: cpu 0: core runtime rejected load (CoreLoadFailure)",
		},
		{
			name: "aggregate",
			err:  &LoadError{Kind: KindAggregate, CPU: -1, Count: 3},
			want: "hvload: 3 processor(s) failed to load (AggregateFailure) - all processors were torn down",
		},
		{
			name: "release without op",
			err:  &LoadError{Kind: KindRelease, CPU: 1},
			want: "hvload: cpu 1: buffer release failed (ReleaseFailure)",
		},
		{
			name: "sentinel message",
			err:  ErrWorkerSignalTimeout,
			want: "hvload: worker signal timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadErrorSanitized(t *testing.T) {
	t.Setenv("HVLOAD_ENV", "production")

	err := &LoadError{Kind: KindAllocation, CPU: 2, Op: "launch buffer", Err: errors.New("phys 0x1234")}
	if got := err.Error(); got != "hvload: allocation failed" {
		t.Errorf("Error() = %q", got)
	}
	if strings.Contains(err.Error(), "0x1234") {
		t.Error("sanitized error leaks the cause")
	}
}

func TestLoadErrorDebugDisabled(t *testing.T) {
	t.Setenv("HVLOAD_ENV", "")
	t.Setenv("HVLOAD_DEBUG", "false")

	if !isProductionEnv() {
		t.Error("HVLOAD_DEBUG=false should select sanitized errors")
	}
}

func TestLoadErrorIs(t *testing.T) {
	cause := errors.New("vmxon failed")
	err := fmt.Errorf("wrapped: %w", &LoadError{Kind: KindCoreLoad, CPU: 3, Err: cause})

	if !errors.Is(err, ErrCoreLoadFailure) {
		t.Error("errors.Is(err, ErrCoreLoadFailure) = false")
	}
	if errors.Is(err, ErrAllocationFailure) {
		t.Error("errors.Is matched a different kind")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if errors.Is(&LoadError{}, &LoadError{}) {
		t.Error("unknown kinds must not match each other")
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindAllocation:    "AllocationFailure",
		KindCoreLoad:      "CoreLoadFailure",
		KindAggregate:     "AggregateFailure",
		KindSignalTimeout: "WorkerSignalTimeout",
		KindRuntimeLoad:   "RuntimeLoadFailure",
		KindRuntimeUnload: "RuntimeUnloadFailure",
		KindRelease:       "ReleaseFailure",
		KindAffinity:      "AffinityFailure",
		KindUnknown:       "UnknownFailure",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
