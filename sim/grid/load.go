package grid

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/gridsync/gridsync/sim"
)

// Load draws voltage-dependent power from its parent bus:
// P = Base * V^Exponent * noise. Exponent 0, 1 and 2 give constant power,
// current and impedance behaviour. The noise factor is redrawn every
// Interval ticks from the load's private random stream.
type Load struct {
	Name      string
	Base      float64
	Exponent  float64
	Jitter    float64       // relative noise amplitude in [0, 1)
	Interval  sim.Timestamp // 0 means the load never changes on its own
	RelayName string        // optional relay that disconnects the load
	Tolerance float64

	bus       *Bus
	slot      int
	relay     *Relay
	rng       *rand.Rand
	noise     float64
	nextDraw  sim.Timestamp
	power     float64
	connected bool
}

// NewLoad creates a connected constant-power load.
func NewLoad(name string, base float64) *Load {
	return &Load{Name: name, Base: base, Tolerance: defaultTolerance}
}

func (l *Load) Init(ctx *sim.InitContext) sim.InitOutcome {
	if l.Jitter < 0 || l.Jitter >= 1 {
		return sim.Failed(fmt.Errorf("jitter must be in [0, 1), got %g", l.Jitter))
	}
	parent, ok := ctx.Parent()
	if !ok {
		return sim.Failed(fmt.Errorf("load needs a parent bus"))
	}
	bus, ok := parent.(*Bus)
	if !ok {
		return sim.Failed(fmt.Errorf("parent is a %T, not a bus", parent))
	}
	if l.RelayName != "" && l.relay == nil {
		h, err := ctx.Lookup(l.RelayName)
		if err != nil {
			return sim.Failed(err)
		}
		if !ctx.IsReady(h) {
			return sim.Defer(fmt.Sprintf("relay %q not initialized", l.RelayName))
		}
		body, err := ctx.Peer(h)
		if err != nil {
			return sim.Failed(err)
		}
		relay, ok := body.(*Relay)
		if !ok {
			return sim.Failed(fmt.Errorf("%q is a %T, not a relay", l.RelayName, body))
		}
		l.relay = relay
	}
	if l.bus == nil {
		l.bus = bus
		l.slot = bus.attach()
	}
	if l.Tolerance == 0 {
		l.Tolerance = defaultTolerance
	}
	l.rng = ctx.RNG()
	l.noise = 1
	l.connected = true
	return sim.Ready()
}

// Precommit applies relay trips and redraws the noise factor when due. A
// disconnected load stops asking for wake-ups.
func (l *Load) Precommit(t0 sim.Timestamp) (sim.Timestamp, error) {
	if l.relay != nil && l.relay.Tripped() {
		l.connected = false
	}
	if !l.connected || l.Interval <= 0 {
		return sim.TSNever, nil
	}
	if t0 >= l.nextDraw {
		if l.Jitter > 0 {
			l.noise = 1 + l.Jitter*(2*l.rng.Float64()-1)
		}
		l.nextDraw = t0 + l.Interval
	}
	return l.nextDraw, nil
}

// Sync recomputes the demand at the parent's present voltage and asks for
// another pass while it still moves.
func (l *Load) Sync(t0 sim.Timestamp) (sim.Timestamp, error) {
	p := 0.0
	if l.connected {
		p = l.Base * math.Pow(l.bus.Voltage(), l.Exponent) * l.noise
	}
	l.bus.contribute(l.slot, p)
	changed := math.Abs(p-l.power) > l.Tolerance
	l.power = p
	if changed {
		return t0, nil
	}
	return sim.TSNever, nil
}

// Power returns the demand computed by the last sync.
func (l *Load) Power() float64 { return l.power }

// Connected reports whether the load still draws power.
func (l *Load) Connected() bool { return l.connected }

// Sample implements recorder.Sampler.
func (l *Load) Sample() map[string]float64 {
	connected := 0.0
	if l.connected {
		connected = 1
	}
	return map[string]float64{"power": l.power, "connected": connected}
}
