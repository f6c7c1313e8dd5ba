package sim

import "github.com/sirupsen/logrus"

// converge repeats the sync pass at t0 until no object and no module sync hook
// asks for the same instant again. It returns the earliest wake time requested
// by the converged population.
func (k *Kernel) converge(t0 Timestamp) (Timestamp, error) {
	limit := k.config.MaxIterations
	var pendingModules []string
	for iter := 1; iter <= limit; iter++ {
		res := k.runPass(PhaseSync, t0, t0, iter)
		k.stats.SyncIterations++
		if err := k.reportFailures(t0, res.failures); err != nil {
			return res.next, err
		}
		next := res.next

		pendingModules = pendingModules[:0]
		for _, m := range k.modules {
			s, ok := m.(ModuleSyncer)
			if !ok {
				continue
			}
			mnext, err := k.moduleCall(m, PhaseSync, t0, func() (Timestamp, error) { return s.OnSync(t0) })
			if err != nil {
				return next, err
			}
			if mnext == t0 {
				pendingModules = append(pendingModules, moduleObjectName(m))
			}
			next = MinTimestamp(next, mnext)
		}

		if next > t0 {
			if iter > 1 {
				logrus.Debugf("[tick %07d] sync converged after %d passes", int64(t0), iter)
			}
			k.metrics.SyncConverged(iter)
			k.trace.recordConvergence(t0, iter, true)
			return next, nil
		}
	}

	ncErr := &NonConvergenceError{Instant: t0, Iterations: limit, Pending: k.pendingSync(t0, pendingModules)}
	k.stats.NonConverged++
	k.metrics.SyncNonConverged(limit)
	k.trace.recordConvergence(t0, limit, false)
	if k.policy.ClassifyNonConvergence() == ActionAbort {
		logrus.Errorf("[tick %07d] %v", int64(t0), ncErr)
		return TSNever, ncErr
	}
	logrus.Warnf("[tick %07d] %v; advancing to %d", int64(t0), ncErr, int64(t0)+1)
	// every request for t0 becomes t0+1, which is then the earliest wake time
	return t0 + 1, nil
}

// pendingSync names, in registration order, the objects whose last sync call
// still asked for t0.
func (k *Kernel) pendingSync(t0 Timestamp, modules []string) []string {
	var names []string
	for _, e := range k.reg.order {
		if e.class.participates(PhaseSync) && e.lastNext == t0 {
			names = append(names, e.name)
		}
	}
	return append(names, modules...)
}
