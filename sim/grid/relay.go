package grid

import (
	"fmt"

	"github.com/gridsync/gridsync/sim"
)

// Relay watches its parent bus and trips once the voltage drops below
// Threshold. It only reads peer state; loads that reference it disconnect at
// the next instant.
type Relay struct {
	Name      string
	Threshold float64

	bus       *Bus
	tripped   bool
	trippedAt sim.Timestamp
}

// NewRelay creates an armed undervoltage relay.
func NewRelay(name string, threshold float64) *Relay {
	return &Relay{Name: name, Threshold: threshold, trippedAt: sim.TSNever}
}

func (r *Relay) Init(ctx *sim.InitContext) sim.InitOutcome {
	parent, ok := ctx.Parent()
	if !ok {
		return sim.Failed(fmt.Errorf("relay needs a parent bus"))
	}
	bus, ok := parent.(*Bus)
	if !ok {
		return sim.Failed(fmt.Errorf("parent is a %T, not a bus", parent))
	}
	r.bus = bus
	return sim.Ready()
}

// Sync trips the relay and requests one more pass at the same instant so the
// trip is observed before the instant commits.
func (r *Relay) Sync(t0 sim.Timestamp) (sim.Timestamp, error) {
	if r.tripped || r.bus.Voltage() >= r.Threshold {
		return sim.TSNever, nil
	}
	r.tripped, r.trippedAt = true, t0
	return t0, nil
}

// Tripped reports whether the relay has operated.
func (r *Relay) Tripped() bool { return r.tripped }

// TrippedAt returns the instant of the trip, or TSNever.
func (r *Relay) TrippedAt() sim.Timestamp { return r.trippedAt }

// Sample implements recorder.Sampler.
func (r *Relay) Sample() map[string]float64 {
	tripped := 0.0
	if r.tripped {
		tripped = 1
	}
	return map[string]float64{"tripped": tripped}
}
