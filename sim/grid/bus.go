package grid

import (
	"fmt"

	"github.com/gridsync/gridsync/sim"
)

// Bus is a node with a fixed source voltage behind an impedance. Child loads
// write their demand into per-child slots; the module solver moves the
// voltage to the fixed point V = V0 - Z*P/V.
type Bus struct {
	Name      string
	Nominal   float64 // source voltage, per unit
	Impedance float64 // source impedance, per unit

	voltage       float64
	demand        float64
	contributions []float64
	committed     float64
}

// NewBus creates a bus at its nominal voltage.
func NewBus(name string, nominal, impedance float64) *Bus {
	return &Bus{Name: name, Nominal: nominal, Impedance: impedance, voltage: nominal}
}

func (b *Bus) Init(*sim.InitContext) sim.InitOutcome {
	if b.Nominal <= 0 {
		return sim.Failed(fmt.Errorf("nominal voltage must be positive, got %g", b.Nominal))
	}
	if b.Impedance < 0 {
		return sim.Failed(fmt.Errorf("impedance must be >= 0, got %g", b.Impedance))
	}
	if b.voltage == 0 {
		b.voltage = b.Nominal
	}
	return sim.Ready()
}

// Sync sums the child contributions. Re-running it at the same instant gives
// the same demand because children overwrite their slot instead of adding.
func (b *Bus) Sync(sim.Timestamp) (sim.Timestamp, error) {
	var total float64
	for _, c := range b.contributions {
		total += c
	}
	b.demand = total
	return sim.TSNever, nil
}

func (b *Bus) Commit(_, _ sim.Timestamp) (sim.Timestamp, error) {
	b.committed = b.voltage
	return sim.TSNever, nil
}

// attach reserves a contribution slot for a child. Called during init only.
func (b *Bus) attach() int {
	b.contributions = append(b.contributions, 0)
	return len(b.contributions) - 1
}

func (b *Bus) contribute(slot int, p float64) { b.contributions[slot] = p }

// Voltage returns the present bus voltage in per unit.
func (b *Bus) Voltage() float64 { return b.voltage }

// Demand returns the total child demand summed by the last sync.
func (b *Bus) Demand() float64 { return b.demand }

// CommittedVoltage returns the voltage recorded by the last commit.
func (b *Bus) CommittedVoltage() float64 { return b.committed }

// Sample implements recorder.Sampler.
func (b *Bus) Sample() map[string]float64 {
	return map[string]float64{"voltage": b.voltage, "demand": b.demand}
}
