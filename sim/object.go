package sim

import "strings"

// Capability interfaces implemented by plugin object bodies. Every interface is
// optional: a body that does not implement a phase is treated as a no-op that
// returns TSNever (or success for create/init/finalize).

// Creator allocates object-local state. Called once per object at load time.
type Creator interface {
	Create() error
}

// Initializer validates configuration and resolves peer references.
type Initializer interface {
	Init(ctx *InitContext) InitOutcome
}

// Precommitter reads external drivers before the presync pass.
type Precommitter interface {
	Precommit(t0 Timestamp) (Timestamp, error)
}

// Presyncer resets accumulators and pushes parent-supplied state to children.
type Presyncer interface {
	Presync(t0 Timestamp) (Timestamp, error)
}

// Syncer computes outputs and pushes child contributions to parents.
// Returning exactly t0 requests another sync pass at the same instant.
type Syncer interface {
	Sync(t0 Timestamp) (Timestamp, error)
}

// Postsyncer pulls finalized parent state back down.
type Postsyncer interface {
	Postsync(t0 Timestamp) (Timestamp, error)
}

// Committer persists results. t1 is the next instant the kernel will visit.
type Committer interface {
	Commit(t0, t1 Timestamp) (Timestamp, error)
}

// Finalizer releases resources after the last timestep.
type Finalizer interface {
	Finalize() error
}

// PassConfig describes which global passes a class participates in and how its
// phase calls may touch peer state. It is a scheduling hint, not behavior.
type PassConfig uint8

const (
	PassPreTopDown PassConfig = 1 << iota
	PassBottomUp
	PassPostTopDown
	// PassAutolock classes mutate peer state and run under the registry lock.
	PassAutolock
	// PassObserver classes only read peer state and never lock.
	PassObserver
)

const passMask = PassPreTopDown | PassBottomUp | PassPostTopDown

func (p PassConfig) Has(flag PassConfig) bool { return p&flag == flag }

func (p PassConfig) String() string {
	var parts []string
	for _, f := range []struct {
		flag PassConfig
		name string
	}{
		{PassPreTopDown, "pretopdown"},
		{PassBottomUp, "bottomup"},
		{PassPostTopDown, "posttopdown"},
		{PassAutolock, "autolock"},
		{PassObserver, "observer"},
	} {
		if p.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// inferPasses derives the pass bits from the capability interfaces a body implements.
func inferPasses(body any) PassConfig {
	var p PassConfig
	if _, ok := body.(Presyncer); ok {
		p |= PassPreTopDown
	}
	if _, ok := body.(Syncer); ok {
		p |= PassBottomUp
	}
	if _, ok := body.(Postsyncer); ok {
		p |= PassPostTopDown
	}
	return p
}

// ClassID addresses a Class within its Registry.
type ClassID int

// Class describes a polymorphic object type.
type Class struct {
	Name string
	// Passes selects the passes the class participates in. When no pass bit is
	// set, the bits are inferred from the objects' capability interfaces at load.
	Passes PassConfig
	// Parallel allows large rank buckets of this class to run on the worker pool.
	// Autolock and observer classes may be parallel; plain classes must not touch
	// state outside themselves during a phase.
	Parallel bool
	// Module names the module that registered the class, if any.
	Module string

	id ClassID
}

// ID returns the class id assigned at registration.
func (c *Class) ID() ClassID { return c.id }

// participates reports whether the class takes part in the given phase.
func (c *Class) participates(phase Phase) bool {
	switch phase {
	case PhasePresync:
		return c.Passes.Has(PassPreTopDown)
	case PhaseSync:
		return c.Passes.Has(PassBottomUp)
	case PhasePostsync:
		return c.Passes.Has(PassPostTopDown)
	default:
		return true
	}
}

// InitStatus tags the result of an Init call.
type InitStatus int

const (
	InitReady InitStatus = iota
	InitDefer
	InitFailed
)

func (s InitStatus) String() string {
	switch s {
	case InitReady:
		return "ready"
	case InitDefer:
		return "defer"
	case InitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InitOutcome is the tagged result of Initializer.Init.
type InitOutcome struct {
	Status InitStatus
	// Reason explains a deferral; informational only.
	Reason string
	// Err is set when Status is InitFailed.
	Err error
}

// Ready reports that the object finished initializing.
func Ready() InitOutcome { return InitOutcome{Status: InitReady} }

// Defer reports that a peer the object depends on is not ready yet.
func Defer(reason string) InitOutcome { return InitOutcome{Status: InitDefer, Reason: reason} }

// Failed reports an unrecoverable configuration problem.
func Failed(err error) InitOutcome { return InitOutcome{Status: InitFailed, Err: err} }
