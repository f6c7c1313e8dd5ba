// Package metrics exports kernel instrumentation to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridsync/gridsync/sim"
)

const (
	namespace       = "gridsync"
	subsystemKernel = "kernel"

	labelPhase = "phase"
	labelClass = "class"
)

// KernelCollector implements sim.Metrics on top of Prometheus collectors.
// Every collector lives in the collector's own registry so several kernels can
// run in one process.
type KernelCollector struct {
	registry *prometheus.Registry

	passes          *prometheus.CounterVec
	calls           *prometheus.CounterVec
	parallelCalls   *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	syncIterations  prometheus.Histogram
	nonConverged    prometheus.Counter
	initDeferrals   *prometheus.CounterVec
	phaseFailures   *prometheus.CounterVec
	clock           prometheus.Gauge
	instantsVisited prometheus.Counter
}

var _ sim.Metrics = (*KernelCollector)(nil)

// NewKernelCollector creates and registers the kernel collectors.
func NewKernelCollector() *KernelCollector {
	reg := prometheus.NewRegistry()
	r := NewRegisterer(reg)
	return &KernelCollector{
		registry: reg,
		passes: r.RegisterNewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "passes_total",
			Help:      "number of phase sweeps across the population",
		}, []string{labelPhase}),
		calls: r.RegisterNewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "phase_calls_total",
			Help:      "number of object phase calls",
		}, []string{labelPhase}),
		parallelCalls: r.RegisterNewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "parallel_phase_calls_total",
			Help:      "number of object phase calls dispatched to the worker pool",
		}, []string{labelPhase}),
		passDuration: r.RegisterNewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "pass_duration_seconds",
			Help:      "wall time of one phase sweep",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{labelPhase}),
		syncIterations: r.RegisterNewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "sync_iterations",
			Help:      "sync passes needed for an instant to converge",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
		}),
		nonConverged: r.RegisterNewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "non_converged_total",
			Help:      "instants whose sync loop exhausted the iteration budget",
		}),
		initDeferrals: r.RegisterNewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "init_deferrals_total",
			Help:      "object inits deferred to a later pass",
		}, []string{labelClass}),
		phaseFailures: r.RegisterNewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "phase_failures_total",
			Help:      "failed phase calls",
		}, []string{labelPhase, labelClass}),
		clock: r.RegisterNewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "clock",
			Help:      "the instant currently being simulated",
		}),
		instantsVisited: r.RegisterNewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemKernel,
			Name:      "instants_total",
			Help:      "number of instants visited",
		}),
	}
}

// Registry returns the registry holding the kernel collectors.
func (c *KernelCollector) Registry() *prometheus.Registry { return c.registry }

func (c *KernelCollector) PassCompleted(phase sim.Phase, calls, parallel int, duration time.Duration) {
	p := string(phase)
	c.passes.WithLabelValues(p).Inc()
	c.calls.WithLabelValues(p).Add(float64(calls))
	c.parallelCalls.WithLabelValues(p).Add(float64(parallel))
	c.passDuration.WithLabelValues(p).Observe(duration.Seconds())
}

func (c *KernelCollector) SyncConverged(iterations int) {
	c.syncIterations.Observe(float64(iterations))
}

func (c *KernelCollector) SyncNonConverged(iterations int) {
	c.syncIterations.Observe(float64(iterations))
	c.nonConverged.Inc()
}

func (c *KernelCollector) InitDeferred(class string) {
	c.initDeferrals.WithLabelValues(class).Inc()
}

func (c *KernelCollector) PhaseFailed(phase sim.Phase, class string) {
	c.phaseFailures.WithLabelValues(string(phase), class).Inc()
}

func (c *KernelCollector) ClockAdvanced(t sim.Timestamp) {
	c.clock.Set(float64(t))
	c.instantsVisited.Inc()
}
