package pool_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/sim"
	"github.com/gridsync/gridsync/sim/internal/testutil"
	_ "github.com/gridsync/gridsync/sim/pool"
)

func TestKernel_ParallelClassRunsOnPool(t *testing.T) {
	// GIVEN a parallel class large enough to be split over four workers,
	// one of whose objects needs two sync passes
	reg := sim.NewRegistry()
	class, err := reg.RegisterClass(&sim.Class{Name: "load", Parallel: true})
	require.NoError(t, err)
	log := &testutil.CallLog{}
	names := make([]string, 64)
	for i := range names {
		names[i] = fmt.Sprintf("load-%02d", i)
	}
	probes := testutil.AddProbes(t, reg, class, log, names...)
	probes[37].SyncFn = func(now sim.Timestamp, call int) (sim.Timestamp, error) {
		if call == 1 {
			return now, nil
		}
		return now + 15, nil
	}
	cfg := sim.DefaultKernelConfig()
	cfg.Threads = 4
	cfg.MinItemsPerThread = 8
	cfg.TraceLevel = "passes"
	k, err := sim.NewKernel(reg, cfg)
	require.NoError(t, err)
	defer k.Close()
	require.NoError(t, k.Load())

	// WHEN one step runs
	t1, err := k.Step(context.Background(), 0)

	// THEN every object was synced once per pass and the minimum was reduced
	require.NoError(t, err)
	assert.Equal(t, sim.Timestamp(15), t1)
	for _, p := range probes {
		assert.Equal(t, 2, p.SyncCalls(), p.Name)
	}
	assert.Len(t, log.Filter(":sync@0"), 128)
	for _, pass := range k.Trace().Passes {
		assert.Equal(t, 64, pass.Parallel, "phase %s", pass.Phase)
	}
}
