package hvloader

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Performance metrics for monitoring loader passes
var (
	// Pass counters
	loadPasses    uint64
	unloadPasses  uint64
	failedLoads   uint64
	failedUnloads uint64

	// Per-processor counters
	coresLoaded    uint64
	coresFailed    uint64
	allocations    uint64
	releases       uint64
	releaseErrors  uint64
	signalTimeouts uint64
	resourceErrors uint64

	// Timing metrics (nanoseconds)
	totalLoadPassTime   uint64
	totalUnloadPassTime uint64
)

// Metrics provides access to loader metrics
type Metrics struct {
	LoadPasses          uint64 `json:"load_passes"`
	UnloadPasses        uint64 `json:"unload_passes"`
	FailedLoadPasses    uint64 `json:"failed_load_passes"`
	FailedUnloadPasses  uint64 `json:"failed_unload_passes"`
	CoresLoaded         uint64 `json:"cores_loaded"`
	CoresFailed         uint64 `json:"cores_failed"`
	Allocations         uint64 `json:"allocations"`
	Releases            uint64 `json:"releases"`
	ReleaseErrors       uint64 `json:"release_errors"`
	SignalTimeouts      uint64 `json:"signal_timeouts"`
	ResourceErrors      uint64 `json:"resource_errors"`
	AvgLoadPassTimeNs   uint64 `json:"avg_load_pass_time_ns"`
	AvgUnloadPassTimeNs uint64 `json:"avg_unload_pass_time_ns"`
}

// GetMetrics returns current loader metrics
func GetMetrics() Metrics {
	loads := atomic.LoadUint64(&loadPasses)
	unloads := atomic.LoadUint64(&unloadPasses)

	var avgLoad, avgUnload uint64
	if loads > 0 {
		avgLoad = atomic.LoadUint64(&totalLoadPassTime) / loads
	}
	if unloads > 0 {
		avgUnload = atomic.LoadUint64(&totalUnloadPassTime) / unloads
	}

	return Metrics{
		LoadPasses:          loads,
		UnloadPasses:        unloads,
		FailedLoadPasses:    atomic.LoadUint64(&failedLoads),
		FailedUnloadPasses:  atomic.LoadUint64(&failedUnloads),
		CoresLoaded:         atomic.LoadUint64(&coresLoaded),
		CoresFailed:         atomic.LoadUint64(&coresFailed),
		Allocations:         atomic.LoadUint64(&allocations),
		Releases:            atomic.LoadUint64(&releases),
		ReleaseErrors:       atomic.LoadUint64(&releaseErrors),
		SignalTimeouts:      atomic.LoadUint64(&signalTimeouts),
		ResourceErrors:      atomic.LoadUint64(&resourceErrors),
		AvgLoadPassTimeNs:   avgLoad,
		AvgUnloadPassTimeNs: avgUnload,
	}
}

// ResetMetrics clears all loader metrics
func ResetMetrics() {
	for _, p := range []*uint64{
		&loadPasses, &unloadPasses, &failedLoads, &failedUnloads,
		&coresLoaded, &coresFailed, &allocations, &releases, &releaseErrors,
		&signalTimeouts, &resourceErrors, &totalLoadPassTime, &totalUnloadPassTime,
	} {
		atomic.StoreUint64(p, 0)
	}
}

// Internal metric recording functions
func recordPass(phase Phase, duration time.Duration, failures int) {
	if phase == PhaseUnload {
		atomic.AddUint64(&unloadPasses, 1)
		atomic.AddUint64(&totalUnloadPassTime, uint64(duration.Nanoseconds()))
		if failures > 0 {
			atomic.AddUint64(&failedUnloads, 1)
		}
		return
	}
	atomic.AddUint64(&loadPasses, 1)
	atomic.AddUint64(&totalLoadPassTime, uint64(duration.Nanoseconds()))
	if failures > 0 {
		atomic.AddUint64(&failedLoads, 1)
	}
}

func recordCoreLoad(ok bool) {
	if ok {
		atomic.AddUint64(&coresLoaded, 1)
		return
	}
	atomic.AddUint64(&coresFailed, 1)
}

func recordAllocation() {
	atomic.AddUint64(&allocations, 1)
}

func recordRelease() {
	atomic.AddUint64(&releases, 1)
}

func recordReleaseError() {
	atomic.AddUint64(&releaseErrors, 1)
}

func recordSignalTimeout() {
	atomic.AddUint64(&signalTimeouts, 1)
}

func recordResourceError() {
	atomic.AddUint64(&resourceErrors, 1)
}

// Collector exports the loader metrics to Prometheus.
type Collector struct {
	counters []counterDesc
	avgLoad  *prometheus.Desc
	avgUnld  *prometheus.Desc
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Metrics) uint64
}

// NewCollector returns a collector reading the package metrics on every
// scrape.
func NewCollector() *Collector {
	counter := func(name, help string, value func(Metrics) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName("hvload", "", name), help, nil, nil),
			value: value,
		}
	}
	return &Collector{
		counters: []counterDesc{
			counter("load_passes_total", "Bring-up passes run.", func(m Metrics) uint64 { return m.LoadPasses }),
			counter("unload_passes_total", "Teardown passes run.", func(m Metrics) uint64 { return m.UnloadPasses }),
			counter("failed_load_passes_total", "Bring-up passes with at least one failed processor.", func(m Metrics) uint64 { return m.FailedLoadPasses }),
			counter("failed_unload_passes_total", "Teardown passes that reported release errors.", func(m Metrics) uint64 { return m.FailedUnloadPasses }),
			counter("cores_loaded_total", "Processors that loaded successfully.", func(m Metrics) uint64 { return m.CoresLoaded }),
			counter("cores_failed_total", "Processors that failed to load.", func(m Metrics) uint64 { return m.CoresFailed }),
			counter("allocations_total", "Physically contiguous buffers allocated.", func(m Metrics) uint64 { return m.Allocations }),
			counter("releases_total", "Buffers released.", func(m Metrics) uint64 { return m.Releases }),
			counter("release_errors_total", "Buffer releases that failed during teardown.", func(m Metrics) uint64 { return m.ReleaseErrors }),
			counter("signal_timeouts_total", "Workers that never signaled completion.", func(m Metrics) uint64 { return m.SignalTimeouts }),
			counter("resource_errors_total", "Memory and runtime errors.", func(m Metrics) uint64 { return m.ResourceErrors }),
		},
		avgLoad: prometheus.NewDesc("hvload_load_pass_avg_seconds", "Average bring-up pass duration.", nil, nil),
		avgUnld: prometheus.NewDesc("hvload_unload_pass_avg_seconds", "Average teardown pass duration.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.avgLoad
	ch <- c.avgUnld
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := GetMetrics()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(m)))
	}
	ch <- prometheus.MustNewConstMetric(c.avgLoad, prometheus.GaugeValue, time.Duration(m.AvgLoadPassTimeNs).Seconds())
	ch <- prometheus.MustNewConstMetric(c.avgUnld, prometheus.GaugeValue, time.Duration(m.AvgUnloadPassTimeNs).Seconds())
}
