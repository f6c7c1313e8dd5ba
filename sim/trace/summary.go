package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalPasses       int
	ParallelCalls     int
	TotalCalls        int
	ConvergenceLoops  int
	NonConverged      int
	MeanIterations    float64
	MaxIterations     int
	Deferrals         int
	Failures          int
	PhaseDistribution map[string]int // phase name → number of passes
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		PhaseDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalPasses = len(st.Passes)
	for _, p := range st.Passes {
		summary.PhaseDistribution[p.Phase]++
		summary.TotalCalls += p.Objects
		summary.ParallelCalls += p.Parallel
	}

	if len(st.Convergences) > 0 {
		total := 0
		for _, c := range st.Convergences {
			total += c.Iterations
			if c.Iterations > summary.MaxIterations {
				summary.MaxIterations = c.Iterations
			}
			if !c.Converged {
				summary.NonConverged++
			}
		}
		summary.ConvergenceLoops = len(st.Convergences)
		summary.MeanIterations = float64(total) / float64(len(st.Convergences))
	}

	summary.Deferrals = len(st.Deferrals)
	summary.Failures = len(st.Failures)

	return summary
}
