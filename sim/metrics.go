package sim

import (
	"fmt"
	"time"

	"github.com/gridsync/gridsync/sim/trace"
)

// Metrics receives kernel instrumentation. Implementations must be safe for
// use from the scheduler goroutine; the kernel never calls them from workers.
type Metrics interface {
	PassCompleted(phase Phase, calls, parallel int, duration time.Duration)
	SyncConverged(iterations int)
	SyncNonConverged(iterations int)
	InitDeferred(class string)
	PhaseFailed(phase Phase, class string)
	ClockAdvanced(t Timestamp)
}

type noopMetrics struct{}

func (noopMetrics) PassCompleted(Phase, int, int, time.Duration) {}
func (noopMetrics) SyncConverged(int)                            {}
func (noopMetrics) SyncNonConverged(int)                         {}
func (noopMetrics) InitDeferred(string)                          {}
func (noopMetrics) PhaseFailed(Phase, string)                    {}
func (noopMetrics) ClockAdvanced(Timestamp)                      {}

// RunStats aggregates statistics about one run for final reporting.
type RunStats struct {
	Objects         int // objects in the registry
	InitPasses      int // init passes needed to resolve deferrals
	Steps           int // timesteps executed
	Passes          int // phase sweeps executed
	SyncIterations  int // sync passes across all timesteps
	NonConverged    int // instants that exhausted MaxIterations
	SkippedInstants int // instants abandoned after a recoverable failure
	FinalizeErrors  int // finalize calls that failed
	LastInstant     Timestamp
	WallTime        time.Duration
}

// Print displays the run statistics.
func (s RunStats) Print() {
	fmt.Println("=== Simulation Summary ===")
	fmt.Printf("Objects              : %d\n", s.Objects)
	fmt.Printf("Init Passes          : %d\n", s.InitPasses)
	fmt.Printf("Timesteps            : %d\n", s.Steps)
	fmt.Printf("Passes               : %d\n", s.Passes)
	fmt.Printf("Sync Iterations      : %d\n", s.SyncIterations)
	if s.Steps > 0 {
		fmt.Printf("Mean Sync Iterations : %.2f\n", float64(s.SyncIterations)/float64(s.Steps))
	}
	fmt.Printf("Non-converged        : %d\n", s.NonConverged)
	fmt.Printf("Skipped Instants     : %d\n", s.SkippedInstants)
	fmt.Printf("Finalize Errors      : %d\n", s.FinalizeErrors)
	fmt.Printf("Last Instant         : %s\n", s.LastInstant)
	fmt.Printf("Wall Time            : %s\n", s.WallTime)
}

// tracer records into a SimulationTrace when tracing is enabled; every method
// is a no-op otherwise.
type tracer struct {
	level trace.TraceLevel
	st    *trace.SimulationTrace
}

func newTracer(level string) *tracer {
	t := &tracer{level: trace.TraceLevel(level)}
	if t.level.Enabled() {
		t.st = trace.NewSimulationTrace(trace.TraceConfig{Level: t.level})
	}
	return t
}

func (t *tracer) enabled() bool { return t.st != nil }

func (t *tracer) recordPass(t0 Timestamp, phase Phase, iteration int, r passResult) {
	if !t.enabled() {
		return
	}
	t.st.RecordPass(trace.PassRecord{
		Clock:     int64(t0),
		Phase:     string(phase),
		Iteration: iteration,
		Objects:   r.calls,
		Parallel:  r.parallel,
		Next:      int64(r.next),
		Failed:    len(r.failures),
	})
}

func (t *tracer) objectsEnabled() bool {
	return t.st != nil && t.level == trace.TraceLevelObjects
}

func (t *tracer) recordObject(t0 Timestamp, phase Phase, name string, next Timestamp) {
	if !t.objectsEnabled() {
		return
	}
	t.st.RecordObject(trace.ObjectRecord{Clock: int64(t0), Phase: string(phase), Object: name, Next: int64(next)})
}

func (t *tracer) recordConvergence(t0 Timestamp, iterations int, converged bool) {
	if !t.enabled() {
		return
	}
	t.st.RecordConvergence(trace.ConvergenceRecord{Clock: int64(t0), Iterations: iterations, Converged: converged})
}

func (t *tracer) recordDeferral(name string, pass int, reason string) {
	if !t.enabled() {
		return
	}
	t.st.RecordDeferral(trace.DeferralRecord{Object: name, Pass: pass, Reason: reason})
}

func (t *tracer) recordFailure(t0 Timestamp, f *PhaseError, action Action) {
	if !t.enabled() {
		return
	}
	t.st.RecordFailure(trace.FailureRecord{
		Clock:  int64(t0),
		Phase:  string(f.Phase),
		Object: f.Object,
		Action: action.String(),
		Error:  f.Error(),
	})
}
