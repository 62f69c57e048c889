// Package metrics registers the Prometheus collectors exported by each
// subsystem. Grounded on gcsfuse's metrics wiring
// (github.com/prometheus/client_golang), the one instrumentation
// library anywhere in the example pack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache holds the buffer cache's counters. Each Cache instance (one per
// open filesystem) gets its own unregistered collectors so tests can
// construct many caches without colliding on the default registry.
type Cache struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
}

// NewCache builds a fresh, unregistered set of cache counters.
func NewCache() *Cache {
	return &Cache{
		Hits:      prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_cache_hits_total", Help: "Buffer cache hits."}),
		Misses:    prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_cache_misses_total", Help: "Buffer cache misses."}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_cache_evictions_total", Help: "Buffer cache slot evictions."}),
	}
}

// Register adds c's collectors to reg so a /metrics endpoint can expose
// them.
func (c *Cache) Register(reg *prometheus.Registry) {
	reg.MustRegister(c.Hits, c.Misses, c.Evictions)
}

// Frame holds the frame table's counters.
type Frame struct {
	Evictions prometheus.Counter
	SwapOuts  prometheus.Counter
	SwapIns   prometheus.Counter
}

// NewFrame builds a fresh, unregistered set of frame counters.
func NewFrame() *Frame {
	return &Frame{
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_frame_evictions_total", Help: "Physical frame evictions."}),
		SwapOuts:  prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_swap_outs_total", Help: "Pages written to swap."}),
		SwapIns:   prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_swap_ins_total", Help: "Pages read back from swap."}),
	}
}

// Register adds f's collectors to reg.
func (f *Frame) Register(reg *prometheus.Registry) {
	reg.MustRegister(f.Evictions, f.SwapOuts, f.SwapIns)
}

// Fault holds the page-fault resolution counters.
type Fault struct {
	Total    prometheus.Counter
	FromFile prometheus.Counter
	FromSwap prometheus.Counter
	Zeroed   prometheus.Counter
	Killed   prometheus.Counter
}

// NewFault builds a fresh, unregistered set of page-fault counters.
func NewFault() *Fault {
	return &Fault{
		Total:    prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_faults_total", Help: "Page faults handled."}),
		FromFile: prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_faults_from_file_total", Help: "Page faults resolved from a mapped file."}),
		FromSwap: prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_faults_from_swap_total", Help: "Page faults resolved from swap."}),
		Zeroed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_faults_zeroed_total", Help: "Page faults resolved with a fresh zero page."}),
		Killed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "vmcore_faults_killed_total", Help: "Page faults that were invariant violations."}),
	}
}

// Register adds f's collectors to reg.
func (f *Fault) Register(reg *prometheus.Registry) {
	reg.MustRegister(f.Total, f.FromFile, f.FromSwap, f.Zeroed, f.Killed)
}
