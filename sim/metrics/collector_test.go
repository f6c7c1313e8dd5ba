package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/sim"
)

type ticker struct{}

func (ticker) Sync(t0 sim.Timestamp) (sim.Timestamp, error) {
	if t0 >= 20 {
		return sim.TSNever, nil
	}
	return t0 + 10, nil
}

func TestKernelCollector_RecordsKernelActivity(t *testing.T) {
	// GIVEN a kernel reporting to a collector
	reg := sim.NewRegistry()
	class, err := reg.RegisterClass(&sim.Class{Name: "ticker"})
	require.NoError(t, err)
	_, err = reg.Add(class, "t", ticker{})
	require.NoError(t, err)
	c := NewKernelCollector()
	cfg := sim.DefaultKernelConfig()
	cfg.Threads = 1
	k, err := sim.NewKernel(reg, cfg, sim.WithMetrics(c))
	require.NoError(t, err)
	defer k.Close()

	// WHEN it runs to completion (instants 0, 10, 20)
	require.NoError(t, k.Run(context.Background()))

	// THEN the collectors reflect the run
	assert.Equal(t, 3.0, testutil.ToFloat64(c.instantsVisited))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.clock))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.passes.WithLabelValues(string(sim.PhaseSync))))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.calls.WithLabelValues(string(sim.PhaseCommit))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.nonConverged))
}

func TestKernelCollector_FailuresAndDeferrals(t *testing.T) {
	c := NewKernelCollector()

	c.InitDeferred("load")
	c.InitDeferred("load")
	c.PhaseFailed(sim.PhaseSync, "bus")
	c.SyncNonConverged(100)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.initDeferrals.WithLabelValues("load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phaseFailures.WithLabelValues("sync", "bus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nonConverged))
}

func TestKernelCollector_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewKernelCollector()
		NewKernelCollector()
	})
}

func TestKernelCollector_ExposedOverHTTP(t *testing.T) {
	c := NewKernelCollector()
	c.ClockAdvanced(42)
	srv := httptest.NewServer(promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gridsync_kernel_clock 42")
}

func TestServer_StopsWithContext(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewKernelCollector().Registry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
