package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/sim"
)

const feederScenario = `
grid:
  solver_policy: warn
  tolerance: 1e-10
buses:
  - name: feeder
    nominal: 1.0
    impedance: 0.05
relays:
  - name: uv-1
    bus: feeder
    threshold: 0.5
loads:
  - name: house-1
    bus: feeder
    base: 0.2
    jitter: 0.05
    interval: 10
    relay: uv-1
recorders:
  - name: feeder-voltage
    target: feeder
    properties: [voltage]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ParsesEverySection(t *testing.T) {
	// GIVEN a scenario using every section
	path := writeFile(t, "feeder.yaml", feederScenario)

	// WHEN it is loaded
	sc, err := LoadScenario(path)

	// THEN every object is described
	require.NoError(t, err)
	assert.Equal(t, "warn", sc.Grid.SolverPolicy)
	require.Len(t, sc.Buses, 1)
	assert.Equal(t, 0.05, sc.Buses[0].Impedance)
	require.Len(t, sc.Loads, 1)
	assert.Equal(t, "uv-1", sc.Loads[0].Relay)
	assert.Equal(t, int64(10), sc.Loads[0].Interval)
	require.Len(t, sc.Relays, 1)
	require.Len(t, sc.Recorders, 1)
	assert.Equal(t, []string{"voltage"}, sc.Recorders[0].Properties)
}

func TestLoadScenario_RejectsUnknownKeys(t *testing.T) {
	// GIVEN a load with a misspelled field
	path := writeFile(t, "typo.yaml", "loads:\n  - name: l1\n    bus: b\n    bsae: 1.0\n")

	// WHEN it is loaded
	_, err := LoadScenario(path)

	// THEN the typo is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bsae")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckScenario_InitializesPopulation(t *testing.T) {
	// GIVEN the feeder scenario with a database for its recorder
	sc, err := parseScenario([]byte(feederScenario))
	require.NoError(t, err)
	db := filepath.Join(t.TempDir(), "samples.db")

	// WHEN it is checked
	stats, err := checkScenario(testKernelConfig(), sc, db)

	// THEN the bus, relay, load and recorder are initialized in one pass since
	// each is listed after what it depends on
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Objects)
	assert.Equal(t, 1, stats.InitPasses)
}

func TestCheckScenario_RecordersNeedDatabase(t *testing.T) {
	// GIVEN a scenario with a recorder but no --db
	sc, err := parseScenario([]byte(feederScenario))
	require.NoError(t, err)

	// WHEN it is checked
	_, err = checkScenario(testKernelConfig(), sc, "")

	// THEN the missing database is reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--db")
}

func TestCheckScenario_ReportsUnknownParent(t *testing.T) {
	// GIVEN a load attached to a bus that does not exist
	sc := Scenario{
		Buses: []BusSpec{{Name: "b1", Nominal: 1, Impedance: 0.1}},
		Loads: []LoadSpec{{Name: "l1", Bus: "b2", Base: 0.1}},
	}

	// WHEN it is checked
	_, err := checkScenario(testKernelConfig(), sc, "")

	// THEN loading fails with a configuration error
	var cfgErr *sim.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCheckScenario_ReportsEmptyGrid(t *testing.T) {
	// GIVEN a scenario without buses
	// WHEN it is checked
	_, err := checkScenario(testKernelConfig(), Scenario{}, "")

	// THEN the grid module's check fails
	require.Error(t, err)
}

func testKernelConfig() sim.KernelConfig {
	cfg := sim.DefaultKernelConfig()
	cfg.Threads = 1
	return cfg
}
