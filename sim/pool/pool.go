// Package pool runs the objects of one rank bucket on a fixed set of
// persistent worker goroutines. It registers itself as the kernel's pass
// runner from init(); importing it for side effects enables parallel passes.
package pool

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/gridsync/gridsync/sim"
)

// Partition is a contiguous [Start, End) slice of a population owned by one
// worker for the duration of a pass.
type Partition struct {
	Start int
	End   int
	// Min is the earliest timestamp returned by the partition's last pass.
	Min sim.Timestamp

	err error
}

// Len returns the number of items in the partition.
func (p Partition) Len() int { return p.End - p.Start }

type worker struct {
	id    int
	start chan uint64
	// last generation completed; touched by the worker goroutine only
	last uint64
}

// WorkerPool spreads one phase call per item over up to threads goroutines.
// Workers are started lazily on the first parallel pass and live until Close.
//
// Thread-safety: Run and Close must be called from a single goroutine (the
// kernel's scheduler).
type WorkerPool struct {
	threads  int
	minChunk int

	partitions map[int][]Partition // cached per population size
	workers    []*worker
	exited     sync.WaitGroup

	generation *atomic.Uint64
	running    *atomic.Int64
	done       sync.WaitGroup

	// current pass, published to workers through their start channels
	call  func(i int) (sim.Timestamp, error)
	parts []Partition

	closed bool
}

// New creates a pool of at most threads workers, each handed at least
// minItemsPerThread items.
func New(threads, minItemsPerThread int) *WorkerPool {
	if threads < 1 {
		threads = 1
	}
	if minItemsPerThread < 1 {
		minItemsPerThread = 1
	}
	return &WorkerPool{
		threads:    threads,
		minChunk:   minItemsPerThread,
		partitions: make(map[int][]Partition),
		generation: atomic.NewUint64(0),
		running:    atomic.NewInt64(0),
	}
}

// Workers returns how many workers a population of n items is split over.
func (p *WorkerPool) Workers(n int) int {
	w := n / p.minChunk
	if w > p.threads {
		w = p.threads
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Partitions returns the split used for a population of n items.
func (p *WorkerPool) Partitions(n int) []Partition {
	return append([]Partition(nil), p.partitionsFor(n)...)
}

func (p *WorkerPool) partitionsFor(n int) []Partition {
	if parts, ok := p.partitions[n]; ok {
		return parts
	}
	w := p.Workers(n)
	chunk, rem := n/w, n%w
	parts := make([]Partition, w)
	start := 0
	for i := range parts {
		size := chunk
		if i < rem {
			size++
		}
		parts[i] = Partition{Start: start, End: start + size, Min: sim.TSNever}
		start += size
	}
	p.partitions[n] = parts
	return parts
}

// Generation returns the number of parallel passes dispatched so far.
func (p *WorkerPool) Generation() uint64 { return p.generation.Load() }

// Running returns the number of workers that have not finished the current pass.
func (p *WorkerPool) Running() int64 { return p.running.Load() }

// Run calls call(i) once for every i in [0, n) and returns the minimum of the
// returned timestamps. All worker errors are aggregated. Populations too small
// to split run inline on the caller's goroutine.
func (p *WorkerPool) Run(n int, call func(i int) (sim.Timestamp, error)) (sim.Timestamp, bool, error) {
	if p.closed {
		panic("WorkerPool.Run() called after Close()")
	}
	if n <= 0 {
		return sim.TSNever, false, nil
	}
	parts := p.partitionsFor(n)
	if len(parts) == 1 {
		part := &parts[0]
		runPartition(part, call)
		return part.Min, false, part.err
	}

	p.ensureWorkers()
	gen := p.generation.Inc()
	p.call, p.parts = call, parts
	p.done.Add(len(parts))
	p.running.Add(int64(len(parts)))
	for i := range parts {
		p.workers[i].start <- gen
	}
	p.done.Wait()

	next := sim.TSNever
	var result *multierror.Error
	for i := range parts {
		next = sim.MinTimestamp(next, parts[i].Min)
		if parts[i].err != nil {
			result = multierror.Append(result, parts[i].err)
		}
	}
	p.call, p.parts = nil, nil
	return next, true, result.ErrorOrNil()
}

func (p *WorkerPool) ensureWorkers() {
	if p.workers != nil {
		return
	}
	p.workers = make([]*worker, p.threads)
	for i := range p.workers {
		w := &worker{id: i, start: make(chan uint64, 1)}
		p.workers[i] = w
		p.exited.Add(1)
		go p.loop(w)
	}
}

func (p *WorkerPool) loop(w *worker) {
	defer p.exited.Done()
	for gen := range w.start {
		if gen <= w.last {
			continue
		}
		w.last = gen
		runPartition(&p.parts[w.id], p.call)
		p.running.Dec()
		p.done.Done()
	}
}

// runPartition evaluates every item of the partition, recording its minimum
// and errors. A panicking call is converted into an error so the pass barrier
// always completes.
func runPartition(part *Partition, call func(i int) (sim.Timestamp, error)) {
	part.Min, part.err = sim.TSNever, nil
	var result *multierror.Error
	for i := part.Start; i < part.End; i++ {
		t, err := safeCall(call, i)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		part.Min = sim.MinTimestamp(part.Min, t)
	}
	part.err = result.ErrorOrNil()
}

func safeCall(call func(i int) (sim.Timestamp, error), i int) (t sim.Timestamp, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = sim.TSNever, fmt.Errorf("item %d panicked: %v", i, r)
		}
	}()
	return call(i)
}

// Close stops every worker and waits for them to exit. It is idempotent.
func (p *WorkerPool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.start)
	}
	p.exited.Wait()
}
