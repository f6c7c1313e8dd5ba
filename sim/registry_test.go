package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBody struct{}

type syncOnly struct{}

func (syncOnly) Sync(Timestamp) (Timestamp, error) { return TSNever, nil }

type topDownOnly struct{}

func (topDownOnly) Presync(Timestamp) (Timestamp, error)  { return TSNever, nil }
func (topDownOnly) Postsync(Timestamp) (Timestamp, error) { return TSNever, nil }

func mustClass(t *testing.T, r *Registry, c *Class) ClassID {
	t.Helper()
	id, err := r.RegisterClass(c)
	require.NoError(t, err)
	return id
}

func TestRegistry_RegisterClass_RejectsDuplicatesAndConflictingFlags(t *testing.T) {
	r := NewRegistry()
	mustClass(t, r, &Class{Name: "bus"})

	_, err := r.RegisterClass(&Class{Name: "bus"})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = r.RegisterClass(&Class{Name: "both", Passes: PassAutolock | PassObserver})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = r.RegisterClass(&Class{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRegistry_Add_AssignsHandlesPerClassArena(t *testing.T) {
	// GIVEN two classes
	r := NewRegistry()
	bus := mustClass(t, r, &Class{Name: "bus"})
	load := mustClass(t, r, &Class{Name: "load"})

	// WHEN objects are interleaved across classes
	b0, err := r.Add(bus, "b0", stubBody{})
	require.NoError(t, err)
	l0, err := r.Add(load, "", stubBody{})
	require.NoError(t, err)
	b1, err := r.Add(bus, "b1", stubBody{})
	require.NoError(t, err)

	// THEN handles index each class arena independently
	assert.Equal(t, "0:0", b0.String())
	assert.Equal(t, "0:1", b1.String())
	assert.Equal(t, "1:0", l0.String())
	assert.Equal(t, bus, b1.Class())
	assert.Equal(t, []Handle{b0, b1}, r.Objects(bus))
	assert.Equal(t, 3, r.Len())

	// THEN unnamed objects get "<class>:<index>"
	h, ok := r.Lookup("load:0")
	require.True(t, ok)
	assert.Equal(t, l0, h)
}

func TestRegistry_Add_Errors(t *testing.T) {
	r := NewRegistry()
	bus := mustClass(t, r, &Class{Name: "bus"})
	_, err := r.Add(bus, "b0", stubBody{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		class ClassID
		obj   string
		body  any
		opts  []ObjectOption
	}{
		{"duplicate name", bus, "b0", stubBody{}, nil},
		{"unknown class", ClassID(9), "x", stubBody{}, nil},
		{"nil body", bus, "x", nil, nil},
		{"self parent", bus, "x", stubBody{}, []ObjectOption{WithParent("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Add(tt.class, tt.obj, tt.body, tt.opts...)
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestRegistry_InvalidHandleIsConfigError(t *testing.T) {
	r := NewRegistry()
	bus := mustClass(t, r, &Class{Name: "bus"})
	_, err := r.Add(bus, "b0", stubBody{})
	require.NoError(t, err)

	for _, h := range []Handle{NoHandle, {class: bus, slot: 5}, {class: 3, slot: 1}} {
		_, err := r.Get(h)
		assert.ErrorIs(t, err, ErrConfig, "handle %v", h)
	}
	assert.False(t, NoHandle.IsValid())
}

func TestRegistry_Groups(t *testing.T) {
	r := NewRegistry()
	load := mustClass(t, r, &Class{Name: "load"})
	a, _ := r.Add(load, "a", stubBody{}, WithGroup("feeder-1"))
	_, _ = r.Add(load, "b", stubBody{}, WithGroup("feeder-2"))
	c, _ := r.Add(load, "c", stubBody{}, WithGroup("feeder-1"))

	assert.Equal(t, []Handle{a, c}, r.Group("feeder-1"))
	assert.Empty(t, r.Group("missing"))
}

func TestRegistry_SealedRejectsMutation(t *testing.T) {
	r := NewRegistry()
	bus := mustClass(t, r, &Class{Name: "bus"})
	r.sealed = true

	assert.Panics(t, func() { _, _ = r.Add(bus, "late", stubBody{}) })
	assert.Panics(t, func() { _, _ = r.RegisterClass(&Class{Name: "late"}) })
}

func TestRegistry_Teardown(t *testing.T) {
	r := NewRegistry()
	bus := mustClass(t, r, &Class{Name: "bus"})
	h, _ := r.Add(bus, "b0", stubBody{})

	r.Teardown()

	assert.Equal(t, 0, r.Len())
	_, err := r.Get(h)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRanks_DepthInParentTree(t *testing.T) {
	// GIVEN a tree registered children first: leaf -> mid -> root
	r := NewRegistry()
	node := mustClass(t, r, &Class{Name: "node"})
	_, _ = r.Add(node, "leaf", stubBody{}, WithParent("mid"))
	_, _ = r.Add(node, "mid", stubBody{}, WithParent("root"))
	_, _ = r.Add(node, "root", stubBody{})
	_, _ = r.Add(node, "other", stubBody{}, WithParent("root"))

	// WHEN parents are resolved and ranks computed
	require.NoError(t, r.resolveParents())
	require.NoError(t, r.computeRanks())
	buckets := r.buildBuckets()

	// THEN ranks equal depth and buckets ascend, keeping registration order
	ranks := map[string]int{}
	for _, e := range r.order {
		ranks[e.name] = e.rank
	}
	assert.Equal(t, map[string]int{"leaf": 2, "mid": 1, "root": 0, "other": 1}, ranks)
	require.Len(t, buckets, 3)
	var rank1 []string
	for _, e := range buckets[1].groups[0].entries {
		rank1 = append(rank1, e.name)
	}
	assert.Equal(t, []string{"mid", "other"}, rank1)
}

func TestRanks_BucketsGroupByClassInClassOrder(t *testing.T) {
	r := NewRegistry()
	load := mustClass(t, r, &Class{Name: "load"})
	bus := mustClass(t, r, &Class{Name: "bus"})
	_, _ = r.Add(bus, "b", stubBody{})
	_, _ = r.Add(load, "l", stubBody{})
	require.NoError(t, r.resolveParents())
	require.NoError(t, r.computeRanks())

	buckets := r.buildBuckets()

	require.Len(t, buckets, 1)
	require.Len(t, buckets[0].groups, 2)
	assert.Equal(t, "load", buckets[0].groups[0].class.Name)
	assert.Equal(t, "bus", buckets[0].groups[1].class.Name)
}

func TestRanks_Errors(t *testing.T) {
	t.Run("unknown parent", func(t *testing.T) {
		r := NewRegistry()
		node := mustClass(t, r, &Class{Name: "node"})
		_, _ = r.Add(node, "a", stubBody{}, WithParent("ghost"))
		assert.ErrorIs(t, r.resolveParents(), ErrConfig)
	})
	t.Run("parent cycle", func(t *testing.T) {
		r := NewRegistry()
		node := mustClass(t, r, &Class{Name: "node"})
		_, _ = r.Add(node, "a", stubBody{}, WithParent("b"))
		_, _ = r.Add(node, "b", stubBody{}, WithParent("a"))
		require.NoError(t, r.resolveParents())
		err := r.computeRanks()
		assert.ErrorIs(t, err, ErrConfig)
		assert.Contains(t, err.Error(), "cycle")
	})
}

func TestFinalizePasses_InfersFromCapabilities(t *testing.T) {
	r := NewRegistry()
	s := mustClass(t, r, &Class{Name: "sync"})
	td := mustClass(t, r, &Class{Name: "topdown"})
	explicit := mustClass(t, r, &Class{Name: "explicit", Passes: PassBottomUp | PassObserver})
	_, _ = r.Add(s, "", syncOnly{})
	_, _ = r.Add(td, "", topDownOnly{})
	_, _ = r.Add(explicit, "", topDownOnly{})

	r.finalizePasses()

	assert.Equal(t, PassBottomUp, r.classes[s].Passes)
	assert.Equal(t, PassPreTopDown|PassPostTopDown, r.classes[td].Passes)
	assert.Equal(t, PassBottomUp|PassObserver, r.classes[explicit].Passes, "explicit bits are kept")
	assert.Equal(t, "pretopdown|posttopdown", r.classes[td].Passes.String())
}
