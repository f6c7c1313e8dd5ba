package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/gridsync/gridsync/sim/trace"
)

// Kernel drives a Registry through timesteps. All phase sweeps are issued from
// the goroutine calling Step or Run; only the objects of large parallel classes
// are handed to the worker pool.
type Kernel struct {
	reg     *Registry
	config  KernelConfig
	policy  FailurePolicy
	rng     *PartitionedRNG
	modules []Module
	runner  PassRunner
	buckets []*bucket

	wake    WakeQueue
	wakeSeq int64
	clock   Timestamp

	metrics Metrics
	trace   *tracer
	stats   RunStats

	loaded  bool
	stepped bool
	hasRun  bool
	closed  bool
}

// KernelOption customizes a Kernel at construction.
type KernelOption func(*Kernel)

// WithMetrics routes kernel instrumentation to m.
func WithMetrics(m Metrics) KernelOption {
	return func(k *Kernel) {
		if m != nil {
			k.metrics = m
		}
	}
}

// WithPassRunner replaces the worker pool built from NewPassRunnerFunc.
func WithPassRunner(r PassRunner) KernelOption {
	return func(k *Kernel) { k.runner = r }
}

// NewKernel creates a kernel over reg. A zero Threads value means GOMAXPROCS.
func NewKernel(reg *Registry, cfg KernelConfig, opts ...KernelOption) (*Kernel, error) {
	if reg == nil {
		return nil, errors.New("kernel: registry is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if cfg.Threads == 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	k := &Kernel{
		reg:     reg,
		config:  cfg,
		policy:  FailurePolicy{StopOnFailure: cfg.StopOnFailure},
		rng:     NewPartitionedRNG(cfg.Seed),
		clock:   Timestamp(cfg.StartTime),
		metrics: noopMetrics{},
		trace:   newTracer(cfg.TraceLevel),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// LoadModule registers a module and its classes. Modules must be loaded before
// Load seals the registry.
func (k *Kernel) LoadModule(m Module) (ClassID, error) {
	if k.loaded {
		panic("Kernel.LoadModule() called after Load()")
	}
	for _, existing := range k.modules {
		if existing.Name() == m.Name() {
			return 0, &ConfigError{Err: fmt.Errorf("module %q already loaded", m.Name())}
		}
	}
	id, err := m.Register(k.reg)
	if err != nil {
		return 0, fmt.Errorf("loading module %q: %w", m.Name(), err)
	}
	k.modules = append(k.modules, m)
	logrus.Debugf("loaded module %q (first class %d)", m.Name(), id)
	return id, nil
}

// Load seals the registry, creates every object, resolves the parent tree and
// runs the dependency-deferred initializer. Any error is fatal to the run.
// Panics if called more than once.
func (k *Kernel) Load() error {
	if k.loaded {
		panic("Kernel.Load() called more than once")
	}
	k.loaded = true
	k.reg.sealed = true

	if err := k.createAll(); err != nil {
		return err
	}
	if err := k.reg.resolveParents(); err != nil {
		return err
	}
	if err := k.reg.computeRanks(); err != nil {
		return err
	}
	k.reg.finalizePasses()
	k.buckets = k.reg.buildBuckets()
	if err := k.initializeAll(); err != nil {
		return err
	}
	if err := k.Check(); err != nil {
		return err
	}
	if k.runner == nil && k.config.Threads > 1 && NewPassRunnerFunc != nil {
		k.runner = NewPassRunnerFunc(k.config.Threads, k.config.MinItemsPerThread)
	}
	k.stats.Objects = k.reg.Len()
	logrus.Infof("loaded %d objects in %d classes over %d ranks (%d init passes, %d threads)",
		k.reg.Len(), len(k.reg.classes), len(k.buckets), k.stats.InitPasses, k.config.Threads)
	return nil
}

// Check runs every module Checker and aggregates their complaints.
func (k *Kernel) Check() error {
	var result *multierror.Error
	for _, m := range k.modules {
		if c, ok := m.(Checker); ok {
			if err := c.Check(); err != nil {
				result = multierror.Append(result, &ConfigError{Object: moduleObjectName(m), Err: err})
			}
		}
	}
	return result.ErrorOrNil()
}

// Arm schedules an external wake-up at t. It must be called from the
// scheduler goroutine (a module hook) or while the kernel is not running.
// Once a step has run, instants at or before the clock are dropped: the
// current instant is never revisited.
func (k *Kernel) Arm(t Timestamp) {
	if !t.IsValid() || t.IsNever() {
		return
	}
	if k.stepped && t <= k.clock {
		logrus.Warnf("[tick %07d] ignoring wake-up armed for t=%s, not after the clock", int64(k.clock), t)
		return
	}
	k.wakeSeq++
	heap.Push(&k.wake, wakeEntry{at: t, seqID: k.wakeSeq})
}

// Step runs one timestep at t0 and returns the next instant to visit. On a
// failure it returns the earliest wake time collected before the failure
// together with the error.
func (k *Kernel) Step(ctx context.Context, t0 Timestamp) (Timestamp, error) {
	if !k.loaded {
		panic("Kernel.Step() called before Load()")
	}
	if t0 < k.clock {
		panic(fmt.Sprintf("Kernel.Step(): clock would move backwards from %s to %s", k.clock, t0))
	}
	k.clock = t0
	k.stepped = true
	k.metrics.ClockAdvanced(t0)
	k.wake.drainThrough(t0)
	logrus.Debugf("[tick %07d] step", int64(t0))

	next := TSNever
	fold := func(t Timestamp, err error) error {
		next = MinTimestamp(next, t)
		return err
	}

	for _, m := range k.modules {
		if p, ok := m.(ModulePrecommitter); ok {
			if err := fold(k.moduleCall(m, PhasePrecommit, t0, func() (Timestamp, error) { return p.OnPrecommit(t0) })); err != nil {
				return next, err
			}
		}
	}
	for _, phase := range []Phase{PhasePrecommit, PhasePresync} {
		if err := fold(k.sweep(phase, t0, t0)); err != nil {
			return next, err
		}
	}
	if err := ctx.Err(); err != nil {
		return next, err
	}
	if err := fold(k.converge(t0)); err != nil {
		return next, err
	}
	if err := fold(k.sweep(PhasePostsync, t0, t0)); err != nil {
		return next, err
	}

	t1 := MinTimestamp(next, k.wake.Peek())
	if err := fold(k.sweep(PhaseCommit, t0, t1)); err != nil {
		return next, err
	}
	for _, m := range k.modules {
		if c, ok := m.(ModuleCommitter); ok {
			call := func() (Timestamp, error) { return TSNever, c.OnCommit(t0) }
			if err := fold(k.moduleCall(m, PhaseCommit, t0, call)); err != nil {
				return next, err
			}
		}
	}

	k.stats.Steps++
	k.stats.LastInstant = t0
	// hooks may have armed new wake-ups during commit
	k.wake.drainThrough(t0)
	return MinTimestamp(next, k.wake.Peek()), nil
}

// Run steps the population from StartTime until it goes idle, passes StopTime,
// ctx is cancelled or a failure aborts the run, then finalizes every object
// and calls the module termination hooks. Finalize errors are logged, never
// returned. Panics if called more than once.
func (k *Kernel) Run(ctx context.Context) error {
	if k.hasRun {
		panic("Kernel.Run() called more than once")
	}
	k.hasRun = true
	if !k.loaded {
		if err := k.Load(); err != nil {
			return err
		}
	}

	start := time.Now()
	stop := k.config.stopTime()
	t := Timestamp(k.config.StartTime)
	var runErr error
	for t <= stop {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		next, err := k.Step(ctx, t)
		if err != nil {
			if !k.recoverable(ctx, err) {
				logrus.Errorf("[tick %07d] aborting run: %v", int64(t), err)
				runErr = err
				break
			}
			k.stats.SkippedInstants++
			next = MinTimestamp(next, k.wake.Peek())
			if next <= t {
				next = t + 1
			}
			logrus.Warnf("[tick %07d] skipping instant: %v", int64(t), err)
		}
		if next.IsNever() {
			logrus.Infof("[tick %07d] no further events requested", int64(t))
			break
		}
		t = next
	}

	if err := k.finalizeAll(); err != nil {
		logrus.Warnf("finalize: %v", err)
	}
	for _, m := range k.modules {
		if term, ok := m.(Terminator); ok {
			term.OnTerm()
		}
	}
	k.stats.WallTime = time.Since(start)
	logrus.Infof("[tick %07d] Simulation ended", int64(k.clock))
	return runErr
}

// recoverable reports whether a failed step may be skipped instead of
// aborting the run.
func (k *Kernel) recoverable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || k.policy.StopOnFailure {
		return false
	}
	return errors.Is(err, ErrPhaseInvalid)
}

// finalizeAll finalizes every object children first. Failures are collected,
// not fatal.
func (k *Kernel) finalizeAll() error {
	var result *multierror.Error
	for i := len(k.buckets) - 1; i >= 0; i-- {
		for _, g := range k.buckets[i].groups {
			for _, e := range g.entries {
				if f, ok := e.body.(Finalizer); ok {
					if err := f.Finalize(); err != nil {
						k.stats.FinalizeErrors++
						logrus.Warnf("finalize of %q failed: %v", e.name, err)
						result = multierror.Append(result, fmt.Errorf("finalize %q: %w", e.name, err))
					}
				}
				e.state = StateFinalized
			}
		}
	}
	return result.ErrorOrNil()
}

// moduleCall runs one module hook and validates its result exactly like an
// object's phase call.
func (k *Kernel) moduleCall(m Module, phase Phase, t0 Timestamp, call func() (Timestamp, error)) (Timestamp, error) {
	next, err := call()
	if k.policy.ClassifyPhase(phase, t0, next, err) >= ActionSkip {
		perr := &PhaseError{Object: moduleObjectName(m), Phase: phase, Instant: t0, Err: err}
		if err == nil && next != TSInvalid {
			perr.Err = fmt.Errorf("returned t=%s, before the current instant", next)
		}
		return TSNever, k.reportFailures(t0, []*PhaseError{perr})
	}
	if next == t0 && phase != PhaseSync {
		next = TSNever
	}
	return next, nil
}

// reportFailures logs, counts and traces failed phase calls and folds them
// into one error.
func (k *Kernel) reportFailures(t0 Timestamp, failures []*PhaseError) error {
	if len(failures) == 0 {
		return nil
	}
	action := k.policy.failure()
	for _, f := range failures {
		class := "module"
		if e, ok := k.reg.byName[f.Object]; ok {
			class = e.class.Name
		}
		if action == ActionAbort {
			logrus.Errorf("[tick %07d] %v", int64(t0), f)
		} else {
			logrus.Warnf("[tick %07d] %v", int64(t0), f)
		}
		k.metrics.PhaseFailed(f.Phase, class)
		k.trace.recordFailure(t0, f, action)
	}
	if len(failures) == 1 {
		return failures[0]
	}
	var result *multierror.Error
	for _, f := range failures {
		result = multierror.Append(result, f)
	}
	return result
}

// Close joins the worker pool, calls the module Kill hooks and tears down the
// registry. It is safe to call more than once.
func (k *Kernel) Close() {
	if k.closed {
		return
	}
	k.closed = true
	if k.runner != nil {
		k.runner.Close()
	}
	for _, m := range k.modules {
		if killer, ok := m.(Killer); ok {
			killer.Kill()
		}
	}
	k.reg.Teardown()
}

// Clock returns the instant of the last step.
func (k *Kernel) Clock() Timestamp { return k.clock }

// Stats returns the run statistics collected so far.
func (k *Kernel) Stats() RunStats { return k.stats }

// Config returns the effective kernel configuration.
func (k *Kernel) Config() KernelConfig { return k.config }

// Registry returns the registry driven by the kernel.
func (k *Kernel) Registry() *Registry { return k.reg }

// Trace returns the recorded trace, or nil when tracing is off.
func (k *Kernel) Trace() *trace.SimulationTrace { return k.trace.st }

func moduleObjectName(m Module) string { return "module:" + m.Name() }
