// Package testutil provides shared test fixtures for the kernel and its
// plugin packages: probe objects that record every lifecycle call they receive.
package testutil

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/gridsync/gridsync/sim"
)

// CallLog records lifecycle calls in the order they happen. Safe for
// concurrent use by probes running on pool workers.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Add appends one formatted call.
func (l *CallLog) Add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Filter returns the recorded calls with the given suffix, e.g. ":sync@10".
func (l *CallLog) Filter(suffix string) []string {
	var out []string
	for _, c := range l.Calls() {
		if len(c) >= len(suffix) && c[len(c)-len(suffix):] == suffix {
			out = append(out, c)
		}
	}
	return out
}

// Probe is an object body implementing every capability interface. Each call
// is logged as "<name>:<phase>@<t>"; the hooks decide what it returns.
type Probe struct {
	Name string
	Log  *CallLog

	// InitFn decides the init outcome; nil means Ready.
	InitFn func(ctx *sim.InitContext) sim.InitOutcome
	// SyncFn receives the 1-based sync call count at t0; nil returns Next.
	SyncFn func(t0 sim.Timestamp, call int) (sim.Timestamp, error)
	// CommitFn overrides the commit result; nil returns TSNever.
	CommitFn func(t0, t1 sim.Timestamp) (sim.Timestamp, error)
	// FinalizeErr is returned by Finalize.
	FinalizeErr error
	// Next is returned by precommit, presync, postsync and (by default) sync.
	Next sim.Timestamp

	syncAt    sim.Timestamp
	syncCalls int
	lastT1    sim.Timestamp
}

// NewProbe creates a probe that asks for no further events.
func NewProbe(name string, log *CallLog) *Probe {
	return &Probe{Name: name, Log: log, Next: sim.TSNever}
}

func (p *Probe) Create() error {
	p.Log.Add("%s:create", p.Name)
	return nil
}

func (p *Probe) Init(ctx *sim.InitContext) sim.InitOutcome {
	p.Log.Add("%s:init#%d", p.Name, ctx.Pass())
	if p.InitFn != nil {
		return p.InitFn(ctx)
	}
	return sim.Ready()
}

func (p *Probe) Precommit(t0 sim.Timestamp) (sim.Timestamp, error) {
	p.Log.Add("%s:precommit@%d", p.Name, t0)
	return p.Next, nil
}

func (p *Probe) Presync(t0 sim.Timestamp) (sim.Timestamp, error) {
	p.Log.Add("%s:presync@%d", p.Name, t0)
	return p.Next, nil
}

func (p *Probe) Sync(t0 sim.Timestamp) (sim.Timestamp, error) {
	p.Log.Add("%s:sync@%d", p.Name, t0)
	if p.syncAt != t0 {
		p.syncAt, p.syncCalls = t0, 0
	}
	p.syncCalls++
	if p.SyncFn != nil {
		return p.SyncFn(t0, p.syncCalls)
	}
	return p.Next, nil
}

func (p *Probe) Postsync(t0 sim.Timestamp) (sim.Timestamp, error) {
	p.Log.Add("%s:postsync@%d", p.Name, t0)
	return p.Next, nil
}

func (p *Probe) Commit(t0, t1 sim.Timestamp) (sim.Timestamp, error) {
	p.Log.Add("%s:commit@%d", p.Name, t0)
	p.lastT1 = t1
	if p.CommitFn != nil {
		return p.CommitFn(t0, t1)
	}
	return sim.TSNever, nil
}

func (p *Probe) Finalize() error {
	p.Log.Add("%s:finalize", p.Name)
	return p.FinalizeErr
}

// SyncCalls returns how many times Sync ran at the most recent sync instant.
func (p *Probe) SyncCalls() int { return p.syncCalls }

// LastT1 returns the next instant the kernel announced at the last commit.
func (p *Probe) LastT1() sim.Timestamp { return p.lastT1 }

// AddProbes registers one probe per name in class and returns them.
func AddProbes(t *testing.T, reg *sim.Registry, class sim.ClassID, log *CallLog, names ...string) []*Probe {
	t.Helper()
	probes := make([]*Probe, len(names))
	for i, name := range names {
		probes[i] = NewProbe(name, log)
		if _, err := reg.Add(class, name, probes[i]); err != nil {
			t.Fatalf("adding probe %q: %v", name, err)
		}
	}
	return probes
}

// TestConfig returns a single-threaded kernel config suitable for tests.
func TestConfig() sim.KernelConfig {
	cfg := sim.DefaultKernelConfig()
	cfg.Threads = 1
	return cfg
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
