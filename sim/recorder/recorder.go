package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gridsync/gridsync/sim"
)

const flushEvery = 256

// Sampler is implemented by objects whose properties can be recorded.
type Sampler interface {
	Sample() map[string]float64
}

// Recorder samples one target object at commit. It only reads its target,
// so its class is an observer.
type Recorder struct {
	Name       string
	Target     string
	Properties []string      // empty records every property
	Interval   sim.Timestamp // minimum spacing of samples; 0 records every commit

	module  *Module
	target  Sampler
	next    sim.Timestamp
	pending []Sample
	written int
}

// NewRecorder creates a recorder of target.
func NewRecorder(name, target string, properties ...string) *Recorder {
	return &Recorder{Name: name, Target: target, Properties: properties}
}

// Init resolves the target and waits until it is initialized, so the first
// sample reflects a configured object.
func (r *Recorder) Init(ctx *sim.InitContext) sim.InitOutcome {
	if r.Target == "" {
		return sim.Failed(errors.New("recorder needs a target"))
	}
	h, err := ctx.Lookup(r.Target)
	if err != nil {
		return sim.Failed(err)
	}
	if !ctx.IsReady(h) {
		return sim.Defer(fmt.Sprintf("target %q not initialized", r.Target))
	}
	body, err := ctx.Peer(h)
	if err != nil {
		return sim.Failed(err)
	}
	s, ok := body.(Sampler)
	if !ok {
		return sim.Failed(fmt.Errorf("target %q (%T) cannot be sampled", r.Target, body))
	}
	if len(r.Properties) > 0 {
		have := s.Sample()
		for _, p := range r.Properties {
			if _, ok := have[p]; !ok {
				return sim.Failed(fmt.Errorf("target %q has no property %q", r.Target, p))
			}
		}
	}
	r.target = s
	return sim.Ready()
}

// Commit samples the target when due. Recorders never ask for wake-ups of
// their own: they sample the instants the rest of the population visits.
func (r *Recorder) Commit(t0, _ sim.Timestamp) (sim.Timestamp, error) {
	if t0 < r.next {
		return sim.TSNever, nil
	}
	values := r.target.Sample()
	props := r.Properties
	if len(props) == 0 {
		for p := range values {
			props = append(props, p)
		}
		sort.Strings(props)
	}
	for _, p := range props {
		r.pending = append(r.pending, Sample{Instant: int64(t0), Object: r.Target, Property: p, Value: values[p]})
	}
	if len(r.pending) >= flushEvery {
		if err := r.flush(); err != nil {
			return sim.TSInvalid, err
		}
	}
	if r.Interval > 0 {
		r.next = t0 + r.Interval
	}
	return sim.TSNever, nil
}

// Finalize writes the remaining samples.
func (r *Recorder) Finalize() error {
	return r.flush()
}

func (r *Recorder) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if r.module == nil || r.module.store == nil {
		return errors.New("recorder has no store")
	}
	if err := r.module.store.Write(context.Background(), r.module.RunID, r.pending); err != nil {
		return fmt.Errorf("writing %d samples: %w", len(r.pending), err)
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// Written returns the number of samples persisted so far.
func (r *Recorder) Written() int { return r.written }

// Module registers the recorder class and owns the store shared by all
// recorders of a run.
type Module struct {
	RunID string

	store     *Store
	class     sim.ClassID
	recorders []*Recorder
}

// NewModule creates a recorder module writing to store under a fresh run id.
func NewModule(store *Store) *Module {
	return &Module{RunID: uuid.NewString(), store: store}
}

func (m *Module) Name() string { return "recorder" }

// Register adds the observer class and opens the run.
func (m *Module) Register(r *sim.Registry) (sim.ClassID, error) {
	if m.store == nil {
		return 0, errors.New("recorder module has no store")
	}
	id, err := r.RegisterClass(&sim.Class{Name: "recorder", Passes: sim.PassObserver, Module: m.Name()})
	if err != nil {
		return 0, err
	}
	m.class = id
	if err := m.store.BeginRun(context.Background(), m.RunID); err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// Add registers a recorder object.
func (m *Module) Add(r *sim.Registry, rec *Recorder) (sim.Handle, error) {
	rec.module = m
	h, err := r.Add(m.class, rec.Name, rec)
	if err != nil {
		return sim.NoHandle, err
	}
	m.recorders = append(m.recorders, rec)
	return h, nil
}

// OnTerm reports how much was recorded.
func (m *Module) OnTerm() {
	total := 0
	for _, rec := range m.recorders {
		total += rec.Written()
	}
	logrus.Infof("recorded %d samples from %d recorders (run %s)", total, len(m.recorders), m.RunID)
}

// Kill closes the store.
func (m *Module) Kill() {
	if err := m.store.Close(); err != nil {
		logrus.Warnf("closing recorder store: %v", err)
	}
}

// Store returns the module's store.
func (m *Module) Store() *Store { return m.store }
