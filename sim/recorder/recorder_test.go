package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/sim"
	"github.com/gridsync/gridsync/sim/internal/testutil"
)

// gauge is a sampled object that changes every 5 ticks until t=20.
type gauge struct {
	level float64
}

func (g *gauge) Sync(t0 sim.Timestamp) (sim.Timestamp, error) {
	g.level = float64(t0) / 10
	if t0 >= 20 {
		return sim.TSNever, nil
	}
	return t0 + 5, nil
}

func (g *gauge) Sample() map[string]float64 {
	return map[string]float64{"level": g.level, "double": 2 * g.level}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	return s
}

func newRun(t *testing.T, rec *Recorder) (*sim.Kernel, *Module) {
	t.Helper()
	reg := sim.NewRegistry()
	k, err := sim.NewKernel(reg, testutil.TestConfig())
	require.NoError(t, err)
	t.Cleanup(k.Close)
	m := NewModule(openStore(t))
	_, err = k.LoadModule(m)
	require.NoError(t, err)
	// the recorder is registered before its target so it has to defer
	_, err = m.Add(reg, rec)
	require.NoError(t, err)
	class, err := reg.RegisterClass(&sim.Class{Name: "gauge"})
	require.NoError(t, err)
	_, err = reg.Add(class, "g1", &gauge{})
	require.NoError(t, err)
	return k, m
}

func TestRecorder_PersistsSamplesAtCommit(t *testing.T) {
	// GIVEN a recorder sampling one property every 10 ticks
	rec := NewRecorder("rec-1", "g1", "level")
	rec.Interval = 10
	k, m := newRun(t, rec)

	// WHEN the run completes
	require.NoError(t, k.Run(context.Background()))

	// THEN the recorder waited for its target and wrote at 0, 10 and 20
	assert.Equal(t, 2, k.Stats().InitPasses)
	got, err := m.Store().Samples(context.Background(), m.RunID, "g1", "level")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{0, 10, 20}, []int64{got[0].Instant, got[1].Instant, got[2].Instant})
	assert.Equal(t, 2.0, got[2].Value)
	assert.Equal(t, 3, rec.Written())

	runs, err := m.Store().Runs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{m.RunID}, runs)
}

func TestRecorder_AllPropertiesEveryCommit(t *testing.T) {
	rec := NewRecorder("rec-1", "g1")
	k, m := newRun(t, rec)

	require.NoError(t, k.Run(context.Background()))

	level, err := m.Store().Samples(context.Background(), m.RunID, "g1", "level")
	require.NoError(t, err)
	double, err := m.Store().Samples(context.Background(), m.RunID, "g1", "double")
	require.NoError(t, err)
	assert.Len(t, level, 5, "instants 0, 5, 10, 15, 20")
	assert.Len(t, double, 5)
	assert.Equal(t, 10, rec.Written())
}

func TestRecorder_InitErrors(t *testing.T) {
	tests := []struct {
		name string
		rec  *Recorder
	}{
		{"missing target", NewRecorder("r", "nope")},
		{"unknown property", NewRecorder("r", "g1", "pressure")},
		{"no target", NewRecorder("r", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, _ := newRun(t, tt.rec)
			assert.ErrorIs(t, k.Load(), sim.ErrConfig)
		})
	}
}

func TestRecorder_TargetMustBeSampler(t *testing.T) {
	reg := sim.NewRegistry()
	k, err := sim.NewKernel(reg, testutil.TestConfig())
	require.NoError(t, err)
	defer k.Close()
	m := NewModule(openStore(t))
	_, err = k.LoadModule(m)
	require.NoError(t, err)
	class, _ := reg.RegisterClass(&sim.Class{Name: "plain"})
	_, _ = reg.Add(class, "p", struct{ x int }{})
	_, _ = m.Add(reg, NewRecorder("r", "p"))

	err = k.Load()

	assert.ErrorIs(t, err, sim.ErrConfig)
	assert.Contains(t, err.Error(), "cannot be sampled")
}

func TestModule_RequiresStore(t *testing.T) {
	_, err := (&Module{}).Register(sim.NewRegistry())
	assert.Error(t, err)
}

func TestIsTransientSQLiteErr(t *testing.T) {
	assert.True(t, isTransientSQLiteErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isTransientSQLiteErr(errors.New("disk I/O error (IOERR_SHORT_READ)")))
	assert.False(t, isTransientSQLiteErr(errors.New("no such table: samples")))
	assert.False(t, isTransientSQLiteErr(nil))
}

func TestWithRetry_RetriesTransientErrorsOnly(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("constraint failed")
	err = withRetry(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}
