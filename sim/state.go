package sim

// ObjectState represents the lifecycle state of a simulation object.
//
//	Created → Initializing → Ready → Synchronizing → (Ready | Failed) → Finalized
type ObjectState string

const (
	StateCreated       ObjectState = "created"
	StateInitializing  ObjectState = "initializing"
	StateReady         ObjectState = "ready"
	StateSynchronizing ObjectState = "synchronizing"
	StateFailed        ObjectState = "failed"
	StateFinalized     ObjectState = "finalized"
)

// Phase names one of the lifecycle calls the kernel sequences.
type Phase string

const (
	PhaseCreate    Phase = "create"
	PhaseInit      Phase = "init"
	PhasePrecommit Phase = "precommit"
	PhasePresync   Phase = "presync"
	PhaseSync      Phase = "sync"
	PhasePostsync  Phase = "postsync"
	PhaseCommit    Phase = "commit"
	PhaseFinalize  Phase = "finalize"
)

// StepPhases lists the per-timestep phases in execution order.
var StepPhases = []Phase{PhasePrecommit, PhasePresync, PhaseSync, PhasePostsync, PhaseCommit}

// bottomUp reports whether the phase visits children before parents.
func (p Phase) bottomUp() bool {
	return p == PhaseSync || p == PhaseFinalize
}
