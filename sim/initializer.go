package sim

import (
	"fmt"
	"math/rand"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// InitContext is handed to Initializer.Init. It exposes the object's own
// header and typed access to peers; nothing in it outlives the init pass.
type InitContext struct {
	reg  *Registry
	rng  *PartitionedRNG
	self *entry
	pass int
}

// Self returns the handle of the object being initialized.
func (c *InitContext) Self() Handle { return c.self.handle }

// Name returns the name of the object being initialized.
func (c *InitContext) Name() string { return c.self.name }

// Pass returns the 1-based init pass number.
func (c *InitContext) Pass() int { return c.pass }

// ParentHandle returns the resolved parent handle, or NoHandle.
func (c *InitContext) ParentHandle() Handle { return c.self.parent }

// Parent returns the parent's body, if the object has a parent.
func (c *InitContext) Parent() (any, bool) {
	if !c.self.parent.IsValid() {
		return nil, false
	}
	body, err := c.reg.Get(c.self.parent)
	if err != nil {
		return nil, false
	}
	return body, true
}

// Lookup resolves a peer name. Unknown names are configuration errors.
func (c *InitContext) Lookup(name string) (Handle, error) {
	h, ok := c.reg.Lookup(name)
	if !ok {
		return NoHandle, configErrorf(c.self.name, "reference to unknown object %q", name)
	}
	return h, nil
}

// Peer returns the body behind h.
func (c *InitContext) Peer(h Handle) (any, error) {
	body, err := c.reg.Get(h)
	if err != nil {
		return nil, &ConfigError{Object: c.self.name, Err: err}
	}
	return body, nil
}

// IsReady reports whether the peer has completed its own init.
func (c *InitContext) IsReady(h Handle) bool {
	e, err := c.reg.entry(h)
	if err != nil {
		return false
	}
	return e.state == StateReady
}

// Group returns the members of a group, in registration order.
func (c *InitContext) Group(id string) []Handle { return c.reg.Group(id) }

// RNG returns the object's private deterministic random stream.
func (c *InitContext) RNG() *rand.Rand { return c.rng.ForStream("object/" + c.self.name) }

// createAll calls Create on every object in registration order.
func (k *Kernel) createAll() error {
	for _, e := range k.reg.order {
		if c, ok := e.body.(Creator); ok {
			if err := c.Create(); err != nil {
				return &ConfigError{Object: e.name, Err: fmt.Errorf("create: %w", err)}
			}
		}
		e.state = StateCreated
	}
	return nil
}

// initializeAll runs the dependency-deferred initializer: objects are
// initialized in registration order, deferred ones are retried in the same
// order, and a pass without progress (or too many passes) is fatal.
func (k *Kernel) initializeAll() error {
	pending := append([]*entry(nil), k.reg.order...)
	reasons := make(map[*entry]string)
	limit := k.config.MaxInitPasses
	if limit == 0 {
		limit = len(pending) + 1
	}
	for pass := 1; len(pending) > 0; pass++ {
		if pass > limit {
			return unresolved(pending, reasons, fmt.Sprintf("still deferred after %d passes", limit))
		}
		var deferred []*entry
		for _, e := range pending {
			e.state = StateInitializing
			out := Ready()
			if in, ok := e.body.(Initializer); ok {
				out = in.Init(&InitContext{reg: k.reg, rng: k.rng, self: e, pass: pass})
			}
			switch k.policy.ClassifyInit(out) {
			case ActionContinue:
				e.state = StateReady
			case ActionDefer:
				logrus.Debugf("init of %q deferred on pass %d: %s", e.name, pass, out.Reason)
				k.metrics.InitDeferred(e.class.Name)
				k.trace.recordDeferral(e.name, pass, out.Reason)
				reasons[e] = out.Reason
				deferred = append(deferred, e)
			default:
				e.state = StateFailed
				err := out.Err
				if err == nil {
					err = fmt.Errorf("init failed")
				}
				return &ConfigError{Object: e.name, Err: err}
			}
		}
		k.stats.InitPasses = pass
		if len(deferred) == len(pending) {
			return unresolved(deferred, reasons, fmt.Sprintf("no progress on pass %d", pass))
		}
		pending = deferred
	}
	return nil
}

// unresolved reports the objects still deferred when initialization gave up,
// each with the reason it gave last.
func unresolved(pending []*entry, reasons map[*entry]string, why string) error {
	names := make([]string, len(pending))
	for i, e := range pending {
		names[i] = e.name
	}
	result := multierror.Append(nil, fmt.Errorf("%w: %s: %v", ErrCyclicDependency, why, names))
	for _, e := range pending {
		result = multierror.Append(result, fmt.Errorf("%q: %w: %s", e.name, ErrDeferredInit, reasons[e]))
	}
	return &ConfigError{Err: result}
}
