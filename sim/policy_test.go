package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailurePolicy_ClassifyPhase(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		stop  bool
		phase Phase
		next  Timestamp
		err   error
		want  Action
	}{
		{"future instant", true, PhaseSync, 110, nil, ActionContinue},
		{"never", true, PhaseCommit, TSNever, nil, ActionContinue},
		{"sync retry", true, PhaseSync, 100, nil, ActionRetry},
		{"non-sync current instant", true, PhasePresync, 100, nil, ActionContinue},
		{"invalid aborts", true, PhaseSync, TSInvalid, nil, ActionAbort},
		{"invalid skips", false, PhaseSync, TSInvalid, nil, ActionSkip},
		{"time went backwards", true, PhasePostsync, 99, nil, ActionAbort},
		{"error skips", false, PhaseCommit, 200, boom, ActionSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FailurePolicy{StopOnFailure: tt.stop}
			assert.Equal(t, tt.want, p.ClassifyPhase(tt.phase, 100, tt.next, tt.err))
		})
	}
}

func TestFailurePolicy_ClassifyInitAndNonConvergence(t *testing.T) {
	p := FailurePolicy{}
	assert.Equal(t, ActionContinue, p.ClassifyInit(Ready()))
	assert.Equal(t, ActionDefer, p.ClassifyInit(Defer("waiting")))
	assert.Equal(t, ActionAbort, p.ClassifyInit(Failed(errors.New("bad"))))

	assert.Equal(t, ActionContinue, FailurePolicy{}.ClassifyNonConvergence())
	assert.Equal(t, ActionAbort, FailurePolicy{StopOnFailure: true}.ClassifyNonConvergence())
}

func TestWorst(t *testing.T) {
	assert.Equal(t, ActionAbort, Worst(ActionAbort, ActionRetry))
	assert.Equal(t, ActionSkip, Worst(ActionContinue, ActionSkip))
	assert.Equal(t, "retry", ActionRetry.String())
}

func TestHandleSolverFailure(t *testing.T) {
	cause := errors.New("singular matrix")
	tests := []struct {
		policy  SolverPolicy
		want    Timestamp
		wantErr bool
	}{
		{SolverHalt, TSInvalid, true},
		{"", TSInvalid, true},
		{SolverWarn, TSNever, false},
		{SolverIgnore, TSNever, false},
		{SolverRetry, 50, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			got, err := HandleSolverFailure(tt.policy, "solver", 50, cause)
			assert.Equal(t, tt.want, got)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSolverFailure)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("cause")

	perr := &PhaseError{Object: "x", Phase: PhaseSync, Instant: 3, Err: cause}
	assert.ErrorIs(t, perr, ErrPhaseInvalid)
	assert.ErrorIs(t, perr, cause)
	assert.Contains(t, perr.Error(), `sync of "x" failed at t=3`)

	nc := &NonConvergenceError{Instant: 4, Iterations: 100, Pending: []string{"x"}}
	assert.ErrorIs(t, nc, ErrNonConvergence)

	cerr := &ConfigError{Object: "y", Err: cause}
	assert.ErrorIs(t, cerr, ErrConfig)
	assert.ErrorIs(t, cerr, cause)
}
