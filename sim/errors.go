package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a bad property or reference found at load or init. Fatal to the load.
	ErrConfig = errors.New("configuration error")
	// ErrDeferredInit is not a failure; it marks an init that must be retried.
	ErrDeferredInit = errors.New("initialization deferred")
	// ErrCyclicDependency marks init deferrals that can never resolve.
	ErrCyclicDependency = errors.New("unresolvable init dependency")
	// ErrNonConvergence marks a sync loop that exhausted its iteration budget.
	ErrNonConvergence = errors.New("sync did not converge")
	// ErrPhaseInvalid marks a phase call that returned TSInvalid or an error.
	ErrPhaseInvalid = errors.New("phase failed")
	// ErrSolverFailure marks a failure of an out-of-kernel numeric solver.
	ErrSolverFailure = errors.New("external solver failed")
)

// ConfigError reports a configuration problem attributed to one object.
type ConfigError struct {
	Object string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: object %q: %v", e.Object, e.Err)
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

func configErrorf(object, format string, args ...any) error {
	return &ConfigError{Object: object, Err: fmt.Errorf(format, args...)}
}

// PhaseError identifies the failing object, phase and instant.
type PhaseError struct {
	Object  string
	Phase   Phase
	Instant Timestamp
	Err     error
}

func (e *PhaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s of %q failed at t=%s", e.Phase, e.Object, e.Instant)
	}
	return fmt.Sprintf("%s of %q failed at t=%s: %v", e.Phase, e.Object, e.Instant, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPhaseInvalid}
	}
	return []error{ErrPhaseInvalid, e.Err}
}

// NonConvergenceError reports a sync loop that hit MaxIterations.
type NonConvergenceError struct {
	Instant    Timestamp
	Iterations int
	// Pending lists objects that still requested re-evaluation on the last pass.
	Pending []string
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("sync at t=%s did not converge after %d iterations (pending: %v)",
		e.Instant, e.Iterations, e.Pending)
}

func (e *NonConvergenceError) Unwrap() error { return ErrNonConvergence }

// SolverError wraps an external solver failure surfaced to its owning object.
type SolverError struct {
	Object  string
	Instant Timestamp
	Err     error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver for %q failed at t=%s: %v", e.Object, e.Instant, e.Err)
}

func (e *SolverError) Unwrap() []error { return []error{ErrSolverFailure, e.Err} }
