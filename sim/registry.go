package sim

import (
	"errors"
	"fmt"
	"sync"
)

// Handle is a weak, typed reference to an object in a Registry.
// The zero Handle refers to nothing.
type Handle struct {
	class ClassID
	slot  int // arena index + 1
}

// NoHandle is the zero Handle.
var NoHandle Handle

// IsValid reports whether h refers to an object slot.
func (h Handle) IsValid() bool { return h.slot > 0 }

// Class returns the id of the class the handle belongs to.
func (h Handle) Class() ClassID { return h.class }

func (h Handle) String() string {
	if !h.IsValid() {
		return "<none>"
	}
	return fmt.Sprintf("%d:%d", h.class, h.slot-1)
}

// entry is the kernel-side header of one simulation object.
type entry struct {
	handle     Handle
	name       string
	class      *Class
	parentName string
	parent     Handle
	group      string
	rank       int
	seq        int
	lastT      Timestamp
	state      ObjectState
	body       any

	// written by the goroutine running the object's phase call, read by the
	// scheduler after the pass has joined
	lastNext Timestamp
	lastErr  *PhaseError
}

// ObjectInfo is a read-only snapshot of an object's kernel header.
type ObjectInfo struct {
	Handle Handle
	Name   string
	Class  string
	Parent Handle
	Group  string
	Rank   int
	LastT  Timestamp
	State  ObjectState
}

// ObjectOption configures an object at registration.
type ObjectOption func(*entry)

// WithParent names the object's parent. The name is resolved to a handle by the
// initializer, so the parent may be registered later.
func WithParent(name string) ObjectOption {
	return func(e *entry) { e.parentName = name }
}

// WithGroup tags the object with a group id used for cross-object aggregation.
func WithGroup(group string) ObjectOption {
	return func(e *entry) { e.group = group }
}

// Registry owns every class and object of one simulation. Objects live in one
// arena per class and are addressed by Handle; they are never freed before
// Teardown. The embedded RWMutex is the peer-state lock taken on behalf of
// autolock classes.
type Registry struct {
	mu sync.RWMutex

	classes     []*Class
	classByName map[string]ClassID
	arenas      [][]*entry
	order       []*entry
	byName      map[string]*entry
	groups      map[string][]Handle

	sealed bool
	torn   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		classByName: make(map[string]ClassID),
		byName:      make(map[string]*entry),
		groups:      make(map[string][]Handle),
	}
}

// RegisterClass adds a class and returns its id.
func (r *Registry) RegisterClass(c *Class) (ClassID, error) {
	r.mustBeOpen()
	if c == nil || c.Name == "" {
		return 0, &ConfigError{Err: errors.New("class must have a name")}
	}
	if _, exists := r.classByName[c.Name]; exists {
		return 0, &ConfigError{Err: fmt.Errorf("class %q already registered", c.Name)}
	}
	if c.Passes.Has(PassAutolock) && c.Passes.Has(PassObserver) {
		return 0, &ConfigError{Err: fmt.Errorf("class %q cannot be both autolock and observer", c.Name)}
	}
	c.id = ClassID(len(r.classes))
	r.classes = append(r.classes, c)
	r.arenas = append(r.arenas, nil)
	r.classByName[c.Name] = c.id
	return c.id, nil
}

// Class returns the class registered under name.
func (r *Registry) Class(name string) (*Class, bool) {
	id, ok := r.classByName[name]
	if !ok {
		return nil, false
	}
	return r.classes[id], true
}

// Classes returns all classes in registration order.
func (r *Registry) Classes() []*Class {
	return append([]*Class(nil), r.classes...)
}

// Add registers an object body of the given class. An empty name is replaced
// by "<class>:<index>".
func (r *Registry) Add(class ClassID, name string, body any, opts ...ObjectOption) (Handle, error) {
	r.mustBeOpen()
	if int(class) < 0 || int(class) >= len(r.classes) {
		return NoHandle, configErrorf(name, "unknown class id %d", class)
	}
	if body == nil {
		return NoHandle, configErrorf(name, "object body is nil")
	}
	c := r.classes[class]
	if name == "" {
		name = fmt.Sprintf("%s:%d", c.Name, len(r.arenas[class]))
	}
	if _, exists := r.byName[name]; exists {
		return NoHandle, configErrorf(name, "duplicate object name")
	}
	e := &entry{
		handle: Handle{class: class, slot: len(r.arenas[class]) + 1},
		name:   name,
		class:  c,
		seq:    len(r.order),
		lastT:  TSZero,
		body:   body,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parentName == name {
		return NoHandle, configErrorf(name, "object cannot be its own parent")
	}
	r.arenas[class] = append(r.arenas[class], e)
	r.order = append(r.order, e)
	r.byName[name] = e
	if e.group != "" {
		r.groups[e.group] = append(r.groups[e.group], e.handle)
	}
	return e.handle, nil
}

// Len returns the number of registered objects.
func (r *Registry) Len() int { return len(r.order) }

// Lookup resolves an object name to its handle.
func (r *Registry) Lookup(name string) (Handle, bool) {
	e, ok := r.byName[name]
	if !ok {
		return NoHandle, false
	}
	return e.handle, true
}

// Get returns the body behind h. Invalid handles yield a ConfigError.
func (r *Registry) Get(h Handle) (any, error) {
	e, err := r.entry(h)
	if err != nil {
		return nil, err
	}
	return e.body, nil
}

// Info returns a snapshot of the object's kernel header.
func (r *Registry) Info(h Handle) (ObjectInfo, error) {
	e, err := r.entry(h)
	if err != nil {
		return ObjectInfo{}, err
	}
	return e.info(), nil
}

// Objects returns the handles of one class in registration order.
func (r *Registry) Objects(class ClassID) []Handle {
	if int(class) < 0 || int(class) >= len(r.arenas) {
		return nil
	}
	out := make([]Handle, len(r.arenas[class]))
	for i, e := range r.arenas[class] {
		out[i] = e.handle
	}
	return out
}

// Group returns the handles tagged with the group id, in registration order.
func (r *Registry) Group(id string) []Handle {
	return append([]Handle(nil), r.groups[id]...)
}

// Teardown drops all objects. It must only run after every worker has joined.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.arenas {
		r.arenas[i] = nil
	}
	r.order = nil
	r.byName = make(map[string]*entry)
	r.groups = make(map[string][]Handle)
	r.torn = true
}

func (r *Registry) entry(h Handle) (*entry, error) {
	if !h.IsValid() || int(h.class) < 0 || int(h.class) >= len(r.arenas) || h.slot > len(r.arenas[h.class]) {
		return nil, &ConfigError{Err: fmt.Errorf("invalid handle %s", h)}
	}
	return r.arenas[h.class][h.slot-1], nil
}

func (r *Registry) mustBeOpen() {
	if r.sealed || r.torn {
		panic("Registry: cannot register after the simulation has been loaded")
	}
}

// guard acquires the peer-state lock required by the class for the phase and
// returns the matching release func.
func (r *Registry) guard(c *Class, phase Phase) func() {
	if !c.Passes.Has(PassAutolock) {
		return func() {}
	}
	switch phase {
	case PhasePresync, PhaseSync:
		r.mu.Lock()
		return r.mu.Unlock
	default:
		r.mu.RLock()
		return r.mu.RUnlock
	}
}

func (e *entry) info() ObjectInfo {
	return ObjectInfo{
		Handle: e.handle,
		Name:   e.name,
		Class:  e.class.Name,
		Parent: e.parent,
		Group:  e.group,
		Rank:   e.rank,
		LastT:  e.lastT,
		State:  e.state,
	}
}
