package trace

import "github.com/google/uuid"

// TraceLevel controls the verbosity of pass tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelPasses captures passes, convergence loops, deferrals and failures.
	TraceLevelPasses TraceLevel = "passes"
	// TraceLevelObjects additionally captures every single phase call.
	TraceLevelObjects TraceLevel = "objects"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelPasses:  true,
	TraceLevelObjects: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Enabled reports whether the level records anything.
func (l TraceLevel) Enabled() bool {
	return l == TraceLevelPasses || l == TraceLevelObjects
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records during one kernel run.
// Records are appended from the scheduler goroutine only.
type SimulationTrace struct {
	RunID        string
	Config       TraceConfig
	Passes       []PassRecord
	Objects      []ObjectRecord
	Convergences []ConvergenceRecord
	Deferrals    []DeferralRecord
	Failures     []FailureRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		RunID:        uuid.NewString(),
		Config:       config,
		Passes:       make([]PassRecord, 0),
		Objects:      make([]ObjectRecord, 0),
		Convergences: make([]ConvergenceRecord, 0),
		Deferrals:    make([]DeferralRecord, 0),
		Failures:     make([]FailureRecord, 0),
	}
}

// RecordPass appends a pass record.
func (st *SimulationTrace) RecordPass(record PassRecord) {
	st.Passes = append(st.Passes, record)
}

// RecordObject appends a per-call record.
func (st *SimulationTrace) RecordObject(record ObjectRecord) {
	st.Objects = append(st.Objects, record)
}

// RecordConvergence appends a convergence loop record.
func (st *SimulationTrace) RecordConvergence(record ConvergenceRecord) {
	st.Convergences = append(st.Convergences, record)
}

// RecordDeferral appends an init deferral record.
func (st *SimulationTrace) RecordDeferral(record DeferralRecord) {
	st.Deferrals = append(st.Deferrals, record)
}

// RecordFailure appends a failure record.
func (st *SimulationTrace) RecordFailure(record FailureRecord) {
	st.Failures = append(st.Failures, record)
}
