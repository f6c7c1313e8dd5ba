// Package grid is a small power-flow plugin for the kernel: buses, loads and
// undervoltage relays, plus a module-level solver that settles every bus
// voltage once per sync pass.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/gridsync/gridsync/sim"
)

const (
	defaultTolerance     = 1e-9
	defaultMaxIterations = 50
)

// ErrVoltageCollapse means no operating point exists for the bus demand.
var ErrVoltageCollapse = errors.New("voltage collapse")

// Module registers the grid classes and solves bus voltages.
type Module struct {
	// SolverPolicy selects the reaction to a solver failure; empty means halt.
	SolverPolicy sim.SolverPolicy
	// Tolerance is the voltage change below which a bus counts as settled.
	Tolerance float64
	// MaxIterations bounds the solver updates per instant.
	MaxIterations int

	busClass, loadClass, relayClass sim.ClassID
	registered                      bool
	buses                           []*Bus
	iterations                      int
	totalIterations                 int
	failures                        int
}

// NewModule creates a grid module with default solver settings.
func NewModule() *Module {
	return &Module{
		SolverPolicy:  sim.SolverHalt,
		Tolerance:     defaultTolerance,
		MaxIterations: defaultMaxIterations,
	}
}

func (m *Module) Name() string { return "grid" }

// Register adds the bus, load and relay classes.
func (m *Module) Register(r *sim.Registry) (sim.ClassID, error) {
	if !sim.ValidSolverPolicies[m.SolverPolicy] {
		return 0, fmt.Errorf("unknown solver policy %q", m.SolverPolicy)
	}
	var err error
	if m.busClass, err = r.RegisterClass(&sim.Class{
		Name:   "bus",
		Passes: sim.PassBottomUp,
		Module: m.Name(),
	}); err != nil {
		return 0, err
	}
	if m.loadClass, err = r.RegisterClass(&sim.Class{
		Name:     "load",
		Passes:   sim.PassBottomUp | sim.PassAutolock,
		Parallel: true,
		Module:   m.Name(),
	}); err != nil {
		return 0, err
	}
	if m.relayClass, err = r.RegisterClass(&sim.Class{
		Name:     "relay",
		Passes:   sim.PassBottomUp | sim.PassObserver,
		Parallel: true,
		Module:   m.Name(),
	}); err != nil {
		return 0, err
	}
	m.registered = true
	return m.busClass, nil
}

// AddBus registers a bus as a root object.
func (m *Module) AddBus(r *sim.Registry, b *Bus) (sim.Handle, error) {
	m.mustBeRegistered()
	h, err := r.Add(m.busClass, b.Name, b)
	if err != nil {
		return sim.NoHandle, err
	}
	m.buses = append(m.buses, b)
	return h, nil
}

// AddLoad registers a load under the named bus.
func (m *Module) AddLoad(r *sim.Registry, bus string, l *Load) (sim.Handle, error) {
	m.mustBeRegistered()
	return r.Add(m.loadClass, l.Name, l, sim.WithParent(bus), sim.WithGroup(bus))
}

// AddRelay registers a relay under the named bus.
func (m *Module) AddRelay(r *sim.Registry, bus string, rl *Relay) (sim.Handle, error) {
	m.mustBeRegistered()
	return r.Add(m.relayClass, rl.Name, rl, sim.WithParent(bus))
}

func (m *Module) mustBeRegistered() {
	if !m.registered {
		panic("grid.Module: objects added before the module was loaded")
	}
}

// Check rejects grids without a bus.
func (m *Module) Check() error {
	if len(m.buses) == 0 {
		return errors.New("grid has no bus")
	}
	return nil
}

// OnPrecommit resets the per-instant solver budget.
func (m *Module) OnPrecommit(sim.Timestamp) (sim.Timestamp, error) {
	m.iterations = 0
	return sim.TSNever, nil
}

// OnSync applies one fixed-point update to every bus voltage and asks for
// another sync pass while any voltage still moves.
func (m *Module) OnSync(t0 sim.Timestamp) (sim.Timestamp, error) {
	m.iterations++
	m.totalIterations++
	if m.iterations > m.MaxIterations {
		m.failures++
		return sim.HandleSolverFailure(m.SolverPolicy, "module:"+m.Name(), t0,
			fmt.Errorf("no solution after %d iterations", m.MaxIterations))
	}
	moving := false
	for _, b := range m.buses {
		v, err := solveStep(b)
		if err != nil {
			m.failures++
			return sim.HandleSolverFailure(m.SolverPolicy, "module:"+m.Name(), t0, fmt.Errorf("bus %q: %w", b.Name, err))
		}
		if math.Abs(v-b.voltage) > m.Tolerance {
			moving = true
		}
		b.voltage = v
	}
	if moving {
		return t0, nil
	}
	return sim.TSNever, nil
}

// solveStep returns the next voltage iterate V' = V0 - Z*P/V.
func solveStep(b *Bus) (float64, error) {
	v := b.Nominal - b.Impedance*b.demand/b.voltage
	if v <= 0 || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: demand %.4g exceeds transfer limit", ErrVoltageCollapse, b.demand)
	}
	return v, nil
}

// OnCommit logs the settled voltages at debug level.
func (m *Module) OnCommit(t0 sim.Timestamp) error {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		for _, b := range m.buses {
			logrus.Debugf("[tick %07d] bus %q: V=%.6f P=%.6f (%d solver iterations)", int64(t0), b.Name, b.voltage, b.demand, m.iterations)
		}
	}
	return nil
}

// OnTerm reports the solver totals.
func (m *Module) OnTerm() {
	logrus.Infof("grid solver: %d iterations, %d failures over %d buses", m.totalIterations, m.failures, len(m.buses))
}

// Iterations returns the solver updates spent on the last instant.
func (m *Module) Iterations() int { return m.iterations }

// Failures returns how many solver failures were handled.
func (m *Module) Failures() int { return m.failures }
