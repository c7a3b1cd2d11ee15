package hvloader

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Capabilities describes the processor's virtualization support.
type Capabilities struct {
	Vendor       string `json:"vendor"`
	Brand        string `json:"brand"`
	Arch         string `json:"arch"`
	LogicalCores int    `json:"logical_cores"`
	VMX          bool   `json:"vmx"` // Intel VT-x
	SVM          bool   `json:"svm"` // AMD-V
	PageSize     int    `json:"page_size"`
}

// DetectCapabilities queries CPUID on the calling processor.
func DetectCapabilities() Capabilities {
	return Capabilities{
		Vendor:       cpuid.CPU.VendorString,
		Brand:        cpuid.CPU.BrandName,
		Arch:         runtime.GOARCH,
		LogicalCores: cpuid.CPU.LogicalCores,
		VMX:          cpuid.CPU.Supports(cpuid.VMX),
		SVM:          cpuid.CPU.Supports(cpuid.SVM),
		PageSize:     pageSize(),
	}
}

// Supported returns true if the processor offers a hardware virtualization
// extension and the platform has a loader implementation.
func Supported() (bool, error) {
	if !platformSupported {
		return false, ErrUnsupportedPlatform
	}
	caps := DetectCapabilities()
	return caps.VMX || caps.SVM, nil
}
