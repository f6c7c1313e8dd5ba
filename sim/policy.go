package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Action is the kernel's reaction to one phase outcome. Actions are ordered by
// severity so the worst outcome of a pass is simply the maximum.
type Action int

const (
	// ActionContinue proceeds normally.
	ActionContinue Action = iota
	// ActionRetry re-runs the sync pass at the same instant.
	ActionRetry
	// ActionDefer requeues an object's init for the next init pass.
	ActionDefer
	// ActionSkip abandons the current instant and advances to the next event.
	ActionSkip
	// ActionAbort stops the run.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionRetry:
		return "retry"
	case ActionDefer:
		return "defer"
	case ActionSkip:
		return "skip"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Worst returns the more severe of two actions.
func Worst(a, b Action) Action {
	if a > b {
		return a
	}
	return b
}

// FailurePolicy classifies phase outcomes.
type FailurePolicy struct {
	// StopOnFailure turns PhaseInvalid and NonConvergence into aborts.
	StopOnFailure bool
}

// ClassifyInit maps an init outcome to an action. A failed init is always
// fatal because it is a configuration error.
func (p FailurePolicy) ClassifyInit(out InitOutcome) Action {
	switch out.Status {
	case InitReady:
		return ActionContinue
	case InitDefer:
		return ActionDefer
	default:
		return ActionAbort
	}
}

// ClassifyPhase maps the result of one timestep phase call to an action.
func (p FailurePolicy) ClassifyPhase(phase Phase, t0, next Timestamp, err error) Action {
	if err != nil || next == TSInvalid || next < t0 {
		return p.failure()
	}
	if phase == PhaseSync && next == t0 {
		return ActionRetry
	}
	return ActionContinue
}

// ClassifyNonConvergence decides what an exhausted sync loop means for the run.
func (p FailurePolicy) ClassifyNonConvergence() Action {
	if p.StopOnFailure {
		return ActionAbort
	}
	return ActionContinue
}

func (p FailurePolicy) failure() Action {
	if p.StopOnFailure {
		return ActionAbort
	}
	return ActionSkip
}

// SolverPolicy tells an object how to react when its external solver fails.
type SolverPolicy string

const (
	SolverHalt   SolverPolicy = "halt"
	SolverWarn   SolverPolicy = "warn"
	SolverIgnore SolverPolicy = "ignore"
	SolverRetry  SolverPolicy = "retry"
)

// ValidSolverPolicies is the set of recognized solver policy names.
var ValidSolverPolicies = map[SolverPolicy]bool{
	SolverHalt: true, SolverWarn: true, SolverIgnore: true, SolverRetry: true, "": true,
}

// HandleSolverFailure converts a solver failure into the phase result the
// owning object should return. Retry requests the same instant again, exactly
// like a sync returning t0. An empty policy behaves like halt.
func HandleSolverFailure(policy SolverPolicy, object string, t0 Timestamp, err error) (Timestamp, error) {
	serr := &SolverError{Object: object, Instant: t0, Err: err}
	switch policy {
	case SolverWarn:
		logrus.Warnf("[tick %07d] %v", int64(t0), serr)
		return TSNever, nil
	case SolverIgnore:
		logrus.Debugf("[tick %07d] ignoring %v", int64(t0), serr)
		return TSNever, nil
	case SolverRetry:
		logrus.Debugf("[tick %07d] retrying after %v", int64(t0), serr)
		return t0, nil
	default:
		return TSInvalid, serr
	}
}
