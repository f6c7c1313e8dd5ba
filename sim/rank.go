package sim

import (
	"fmt"
	"sort"
)

// classGroup is the homogeneous slice of one class inside a rank bucket.
// It is the unit handed to the worker pool.
type classGroup struct {
	key     string
	class   *Class
	entries []*entry
}

// bucket holds all objects of one rank. Objects sharing a rank never stand in
// a parent/child relation, so a bucket can be processed in any order.
type bucket struct {
	rank   int
	groups []*classGroup
}

// resolveParents turns parent names into handles.
func (r *Registry) resolveParents() error {
	for _, e := range r.order {
		if e.parentName == "" {
			continue
		}
		p, ok := r.byName[e.parentName]
		if !ok {
			return configErrorf(e.name, "parent %q not found", e.parentName)
		}
		e.parent = p.handle
	}
	return nil
}

// computeRanks assigns every object its depth in the parent tree (roots are 0)
// and rejects parent cycles.
func (r *Registry) computeRanks() error {
	const unvisited, visiting, done = 0, 1, 2
	mark := make(map[*entry]int, len(r.order))
	var visit func(e *entry) error
	visit = func(e *entry) error {
		switch mark[e] {
		case done:
			return nil
		case visiting:
			return configErrorf(e.name, "parent cycle detected")
		}
		mark[e] = visiting
		e.rank = 0
		if e.parent.IsValid() {
			p, err := r.entry(e.parent)
			if err != nil {
				return err
			}
			if err := visit(p); err != nil {
				return err
			}
			e.rank = p.rank + 1
		}
		mark[e] = done
		return nil
	}
	for _, e := range r.order {
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

// buildBuckets groups objects by rank (ascending) and, within a rank, by class
// in class registration order. Registration order is kept inside each group.
func (r *Registry) buildBuckets() []*bucket {
	byRank := make(map[int]*bucket)
	for _, e := range r.order {
		b, ok := byRank[e.rank]
		if !ok {
			b = &bucket{rank: e.rank}
			byRank[e.rank] = b
		}
		var g *classGroup
		for _, existing := range b.groups {
			if existing.class == e.class {
				g = existing
				break
			}
		}
		if g == nil {
			g = &classGroup{key: fmt.Sprintf("%s@%d", e.class.Name, e.rank), class: e.class}
			b.groups = append(b.groups, g)
		}
		g.entries = append(g.entries, e)
	}
	buckets := make([]*bucket, 0, len(byRank))
	for _, b := range byRank {
		sort.SliceStable(b.groups, func(i, j int) bool { return b.groups[i].class.id < b.groups[j].class.id })
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].rank < buckets[j].rank })
	return buckets
}

// finalizePasses fills in inferred pass bits for classes registered without any.
func (r *Registry) finalizePasses() {
	inferred := make([]PassConfig, len(r.classes))
	for _, e := range r.order {
		inferred[e.class.id] |= inferPasses(e.body)
	}
	for _, c := range r.classes {
		if c.Passes&passMask == 0 {
			c.Passes |= inferred[c.id]
		}
	}
}
