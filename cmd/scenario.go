package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridsync/gridsync/sim"
	"github.com/gridsync/gridsync/sim/grid"
	"github.com/gridsync/gridsync/sim/recorder"
)

// Scenario describes the population of one run.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Scenario struct {
	Grid      GridSpec       `yaml:"grid"`
	Buses     []BusSpec      `yaml:"buses"`
	Loads     []LoadSpec     `yaml:"loads"`
	Relays    []RelaySpec    `yaml:"relays"`
	Recorders []RecorderSpec `yaml:"recorders"`
}

// GridSpec tunes the grid module's solver.
type GridSpec struct {
	SolverPolicy  string  `yaml:"solver_policy"`
	Tolerance     float64 `yaml:"tolerance"`
	MaxIterations int     `yaml:"max_iterations"`
}

// BusSpec describes one bus and its source impedance.
type BusSpec struct {
	Name      string  `yaml:"name"`
	Nominal   float64 `yaml:"nominal"`
	Impedance float64 `yaml:"impedance"`
}

// LoadSpec describes a load attached to a bus, optionally behind a relay.
type LoadSpec struct {
	Name     string  `yaml:"name"`
	Bus      string  `yaml:"bus"`
	Base     float64 `yaml:"base"`
	Exponent float64 `yaml:"exponent"`
	Jitter   float64 `yaml:"jitter"`
	Interval int64   `yaml:"interval"`
	Relay    string  `yaml:"relay"`
}

// RelaySpec describes an undervoltage relay watching a bus.
type RelaySpec struct {
	Name      string  `yaml:"name"`
	Bus       string  `yaml:"bus"`
	Threshold float64 `yaml:"threshold"`
}

// RecorderSpec samples properties of one object at a fixed interval.
type RecorderSpec struct {
	Name       string   `yaml:"name"`
	Target     string   `yaml:"target"`
	Properties []string `yaml:"properties"`
	Interval   int64    `yaml:"interval"`
}

// LoadScenario parses a scenario file. Unknown keys are rejected so typos
// surface as errors instead of silently ignored settings.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("reading scenario: %w", err)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	return sc, nil
}

// Modules holds the modules a scenario loaded into a kernel.
type Modules struct {
	Grid     *grid.Module
	Recorder *recorder.Module // nil when the scenario records nothing
}

// Build loads the scenario's modules into k and registers every object.
// store may be nil only when the scenario has no recorders.
func (sc Scenario) Build(k *sim.Kernel, store *recorder.Store) (Modules, error) {
	var mods Modules
	reg := k.Registry()

	gm := grid.NewModule()
	if sc.Grid.SolverPolicy != "" {
		gm.SolverPolicy = sim.SolverPolicy(sc.Grid.SolverPolicy)
	}
	if sc.Grid.Tolerance > 0 {
		gm.Tolerance = sc.Grid.Tolerance
	}
	if sc.Grid.MaxIterations > 0 {
		gm.MaxIterations = sc.Grid.MaxIterations
	}
	if _, err := k.LoadModule(gm); err != nil {
		return mods, err
	}
	mods.Grid = gm

	for _, b := range sc.Buses {
		if _, err := gm.AddBus(reg, grid.NewBus(b.Name, b.Nominal, b.Impedance)); err != nil {
			return mods, fmt.Errorf("bus %q: %w", b.Name, err)
		}
	}
	for _, r := range sc.Relays {
		if _, err := gm.AddRelay(reg, r.Bus, grid.NewRelay(r.Name, r.Threshold)); err != nil {
			return mods, fmt.Errorf("relay %q: %w", r.Name, err)
		}
	}
	for _, l := range sc.Loads {
		load := grid.NewLoad(l.Name, l.Base)
		load.Exponent = l.Exponent
		load.Jitter = l.Jitter
		load.Interval = sim.Timestamp(l.Interval)
		load.RelayName = l.Relay
		if _, err := gm.AddLoad(reg, l.Bus, load); err != nil {
			return mods, fmt.Errorf("load %q: %w", l.Name, err)
		}
	}

	if len(sc.Recorders) == 0 {
		return mods, nil
	}
	if store == nil {
		return mods, errors.New("scenario has recorders but no database was given (--db)")
	}
	rm := recorder.NewModule(store)
	if _, err := k.LoadModule(rm); err != nil {
		return mods, err
	}
	mods.Recorder = rm
	for _, r := range sc.Recorders {
		rec := recorder.NewRecorder(r.Name, r.Target, r.Properties...)
		rec.Interval = sim.Timestamp(r.Interval)
		if _, err := rm.Add(reg, rec); err != nil {
			return mods, fmt.Errorf("recorder %q: %w", r.Name, err)
		}
	}
	return mods, nil
}
