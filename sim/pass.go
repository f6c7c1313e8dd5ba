package sim

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PassRunner executes one phase call per item of a homogeneous population.
// Run must call call(i) exactly once for every i in [0, n), return the minimum
// of the returned timestamps and the aggregated error, and report whether the
// calls were spread over more than one worker. Close joins all workers.
type PassRunner interface {
	Run(n int, call func(i int) (Timestamp, error)) (next Timestamp, parallel bool, err error)
	Close()
}

// NewPassRunnerFunc builds the worker pool used for large parallel classes.
// It is set by sim/pool's init(); when nil every pass runs inline.
var NewPassRunnerFunc func(threads, minItemsPerThread int) PassRunner

type phaseFn func(t0, t1 Timestamp) (Timestamp, error)

// phaseCall returns the body's implementation of the phase, or nil.
func phaseCall(body any, phase Phase) phaseFn {
	switch phase {
	case PhasePrecommit:
		if o, ok := body.(Precommitter); ok {
			return func(t0, _ Timestamp) (Timestamp, error) { return o.Precommit(t0) }
		}
	case PhasePresync:
		if o, ok := body.(Presyncer); ok {
			return func(t0, _ Timestamp) (Timestamp, error) { return o.Presync(t0) }
		}
	case PhaseSync:
		if o, ok := body.(Syncer); ok {
			return func(t0, _ Timestamp) (Timestamp, error) { return o.Sync(t0) }
		}
	case PhasePostsync:
		if o, ok := body.(Postsyncer); ok {
			return func(t0, _ Timestamp) (Timestamp, error) { return o.Postsync(t0) }
		}
	case PhaseCommit:
		if o, ok := body.(Committer); ok {
			return o.Commit
		}
	}
	return nil
}

// passResult is the reduction of one sweep of a phase.
type passResult struct {
	next     Timestamp
	calls    int
	parallel int
	failures []*PhaseError
}

// invoke runs one phase call for one object. It may run on a worker goroutine
// and only touches the object's own header.
func (k *Kernel) invoke(e *entry, phase Phase, t0, t1 Timestamp) (Timestamp, error) {
	call := phaseCall(e.body, phase)
	if call == nil {
		e.lastNext, e.lastErr = TSNever, nil
		return TSNever, nil
	}
	e.state = StateSynchronizing
	next, err := k.guardedCall(e, phase, call, t0, t1)
	if k.policy.ClassifyPhase(phase, t0, next, err) >= ActionSkip {
		perr := &PhaseError{Object: e.name, Phase: phase, Instant: t0, Err: err}
		if err == nil && next != TSInvalid {
			perr.Err = fmt.Errorf("returned t=%s, before the current instant", next)
		}
		e.state = StateFailed
		e.lastNext, e.lastErr = TSNever, perr
		return TSNever, perr
	}
	e.state = StateReady
	e.lastT = t0
	if next == t0 && phase != PhaseSync {
		logrus.Debugf("[tick %07d] %s of %q returned the current instant; only sync may re-iterate", int64(t0), phase, e.name)
		next = TSNever
	}
	e.lastNext, e.lastErr = next, nil
	return next, nil
}

// guardedCall holds the class's peer-state lock for the duration of the call
// and converts a panic into an error so a worker barrier always completes.
func (k *Kernel) guardedCall(e *entry, phase Phase, call phaseFn, t0, t1 Timestamp) (next Timestamp, err error) {
	release := k.reg.guard(e.class, phase)
	defer release()
	defer func() {
		if r := recover(); r != nil {
			next, err = TSInvalid, fmt.Errorf("panic: %v", r)
		}
	}()
	return call(t0, t1)
}

// runPass sweeps one phase across the population in rank order: ascending
// (parents first) for top-down phases, descending for bottom-up ones.
func (k *Kernel) runPass(phase Phase, t0, t1 Timestamp, iteration int) passResult {
	start := time.Now()
	res := passResult{next: TSNever}
	n := len(k.buckets)
	for i := 0; i < n; i++ {
		b := k.buckets[i]
		if phase.bottomUp() {
			b = k.buckets[n-1-i]
		}
		for _, g := range b.groups {
			if !g.class.participates(phase) {
				continue
			}
			k.runGroup(g, phase, t0, t1, &res)
		}
	}
	k.stats.Passes++
	k.metrics.PassCompleted(phase, res.calls, res.parallel, time.Since(start))
	k.trace.recordPass(t0, phase, iteration, res)
	return res
}

func (k *Kernel) runGroup(g *classGroup, phase Phase, t0, t1 Timestamp, res *passResult) {
	call := func(i int) (Timestamp, error) { return k.invoke(g.entries[i], phase, t0, t1) }
	var failed bool
	if runner := k.runnerFor(g); runner != nil {
		next, parallel, err := runner.Run(len(g.entries), call)
		res.next = MinTimestamp(res.next, next)
		if parallel {
			res.parallel += len(g.entries)
		}
		failed = err != nil
	} else {
		for i := range g.entries {
			next, err := call(i)
			res.next = MinTimestamp(res.next, next)
			failed = failed || err != nil
		}
	}
	res.calls += len(g.entries)
	if failed {
		// collected after the join, in registration order, so reports are deterministic
		for _, e := range g.entries {
			if e.lastErr != nil {
				res.failures = append(res.failures, e.lastErr)
			}
		}
	}
	if k.trace.objectsEnabled() {
		for _, e := range g.entries {
			if phaseCall(e.body, phase) != nil {
				k.trace.recordObject(t0, phase, e.name, e.lastNext)
			}
		}
	}
}

// runnerFor returns the worker pool when the group is large enough to benefit.
func (k *Kernel) runnerFor(g *classGroup) PassRunner {
	if k.runner == nil || !g.class.Parallel || len(g.entries) < 2*k.config.MinItemsPerThread {
		return nil
	}
	return k.runner
}

// sweep runs a non-sync phase and applies the failure policy to its result.
func (k *Kernel) sweep(phase Phase, t0, t1 Timestamp) (Timestamp, error) {
	res := k.runPass(phase, t0, t1, 1)
	return res.next, k.reportFailures(t0, res.failures)
}
