package sim

import (
	"hash/fnv"
	"math/rand"
)

// PartitionedRNG provides deterministic, isolated RNG streams per object.
//
// Each stream is seeded with masterSeed XOR fnv1a64(name), so a stream does not
// depend on creation order and parallel passes stay reproducible: an object
// only ever draws from its own stream.
//
// Thread-safety: NOT thread-safe. Streams are handed out during init, which is
// single-threaded; each stream is then used by its owning object only.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:    seed,
		streams: make(map[string]*rand.Rand),
	}
}

// ForStream returns the RNG for the named stream. The same name always returns
// the same *rand.Rand instance. Never returns nil.
func (p *PartitionedRNG) ForStream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.streams[name] = rng
	return rng
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
