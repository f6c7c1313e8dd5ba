package sim

// Module groups object classes that share module-wide hooks, for example an
// external solver that must run once per sync pass instead of once per object.
type Module interface {
	Name() string
	// Register adds the module's classes to the registry and returns the first.
	Register(r *Registry) (ClassID, error)
}

// ModulePrecommitter runs once per timestep before the precommit pass.
type ModulePrecommitter interface {
	OnPrecommit(t0 Timestamp) (Timestamp, error)
}

// ModuleSyncer runs once after every sync pass. Returning t0 requests another
// sync pass, like an object would.
type ModuleSyncer interface {
	OnSync(t0 Timestamp) (Timestamp, error)
}

// ModuleCommitter runs once per timestep after the commit pass.
type ModuleCommitter interface {
	OnCommit(t0 Timestamp) error
}

// Terminator runs once when the run ends, after finalize.
type Terminator interface {
	OnTerm()
}

// Killer releases external resources when the kernel is closed.
type Killer interface {
	Kill()
}

// Checker validates module-wide invariants after init.
type Checker interface {
	Check() error
}
