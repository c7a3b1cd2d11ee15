package hvloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeOnline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "online")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestSysfsEnumerator(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		restrict string
		want     []int
		wantErr  error
	}{
		{name: "range and single", content: "0-3,6\n", want: []int{0, 1, 2, 3, 6}},
		{name: "single processor", content: "0\n", want: []int{0}},
		{name: "restricted", content: "0-7\n", restrict: "2-3,9", want: []int{2, 3}},
		{name: "empty intersection", content: "0-3\n", restrict: "8-9", wantErr: ErrNoProcessors},
		{name: "empty file", content: "\n", wantErr: ErrNoProcessors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := SysfsEnumerator{Path: writeOnline(t, tt.content), Restrict: tt.restrict}
			got, err := e.OnlineCPUs()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("OnlineCPUs() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OnlineCPUs() error: %v", err)
			}
			if !equalInts(got, tt.want) {
				t.Errorf("OnlineCPUs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSysfsEnumeratorErrors(t *testing.T) {
	tests := []struct {
		name string
		e    SysfsEnumerator
	}{
		{"missing file", SysfsEnumerator{Path: filepath.Join(t.TempDir(), "missing")}},
		{"garbage", SysfsEnumerator{Path: writeOnline(t, "zero-three\n")}},
		{"bad restriction", SysfsEnumerator{Path: writeOnline(t, "0-3\n"), Restrict: "3-1"}},
		{"beyond maximum", SysfsEnumerator{Path: writeOnline(t, "0,2048\n")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.e.OnlineCPUs(); err == nil {
				t.Error("OnlineCPUs() succeeded, want error")
			}
		})
	}
}

func TestSysfsEnumeratorHost(t *testing.T) {
	if _, err := os.Stat(DefaultOnlinePath); err != nil {
		t.Skipf("%s not available", DefaultOnlinePath)
	}
	cpus, err := SysfsEnumerator{}.OnlineCPUs()
	if err != nil {
		t.Fatalf("OnlineCPUs() error: %v", err)
	}
	for i := 1; i < len(cpus); i++ {
		if cpus[i] <= cpus[i-1] {
			t.Fatalf("OnlineCPUs() not strictly ascending: %v", cpus)
		}
	}
}

func TestCPUList(t *testing.T) {
	got, err := CPUList{3, 1, 3, 0}.OnlineCPUs()
	if err != nil {
		t.Fatalf("OnlineCPUs() error: %v", err)
	}
	if want := []int{0, 1, 3}; !equalInts(got, want) {
		t.Errorf("OnlineCPUs() = %v, want %v", got, want)
	}

	if _, err := (CPUList{}).OnlineCPUs(); !errors.Is(err, ErrNoProcessors) {
		t.Errorf("empty list error = %v, want ErrNoProcessors", err)
	}
}

func TestParseCPUList(t *testing.T) {
	got, err := ParseCPUList(" 4-5,1 \n")
	if err != nil {
		t.Fatalf("ParseCPUList() error: %v", err)
	}
	if want := []int{1, 4, 5}; !equalInts(got, want) {
		t.Errorf("ParseCPUList() = %v, want %v", got, want)
	}
	if _, err := ParseCPUList("a-b"); err == nil {
		t.Error("ParseCPUList(\"a-b\") succeeded")
	}
}
