// Package trace provides pass-level recording for kernel behavior analysis.
// This package has no dependencies on sim/; it stores plain data types.
package trace

// PassRecord captures one full sweep of a phase across the population.
type PassRecord struct {
	Clock     int64
	Phase     string
	Iteration int   // 1-based sync iteration; 1 for the other phases
	Objects   int   // number of phase calls made
	Parallel  int   // number of calls dispatched to the worker pool
	Next      int64 // reduced next-wake-time of the pass
	Failed    int   // number of calls that failed
}

// ObjectRecord captures a single phase call (TraceLevelObjects only).
type ObjectRecord struct {
	Clock  int64
	Phase  string
	Object string
	Next   int64
}

// ConvergenceRecord captures the outcome of one convergence loop.
type ConvergenceRecord struct {
	Clock      int64
	Iterations int
	Converged  bool
}

// DeferralRecord captures an init deferral.
type DeferralRecord struct {
	Object string
	Pass   int
	Reason string
}

// FailureRecord captures a failed phase and how the kernel reacted.
type FailureRecord struct {
	Clock  int64
	Phase  string
	Object string
	Action string
	Error  string
}
