// Package registry holds the ordered set of modules known to a runtime.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/roach88/txmod/internal/module"
)

// Entry is a registered module with its resolved capabilities.
type Entry struct {
	Module module.Module
	Caps   module.CapabilitySet
}

// ID returns the module id.
func (e Entry) ID() string { return e.Module.ID() }

// Registry is an insertion-ordered set of modules with unique ids.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register appends m. It fails with DuplicateModuleError when a module
// with the same id, or the same instance, is already registered.
func (r *Registry) Register(m module.Module) (Entry, error) {
	if m == nil {
		return Entry{}, fmt.Errorf("register: nil module")
	}
	id := m.ID()
	if id == "" {
		return Entry{}, fmt.Errorf("register: module has an empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return Entry{}, &DuplicateModuleError{ID: id}
	}
	for _, e := range r.entries {
		if sameInstance(e.Module, m) {
			return Entry{}, &DuplicateModuleError{ID: id, ExistingID: e.ID(), SameInstance: true}
		}
	}

	entry := Entry{Module: m, Caps: module.Capabilities(m)}
	r.byID[id] = len(r.entries)
	r.entries = append(r.entries, entry)
	return entry, nil
}

// sameInstance compares modules by identity where the dynamic type allows it.
func sameInstance(a, b module.Module) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns the registered modules in registration order.
// The returned slice is a copy.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// IDs returns the registered module ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.ID()
	}
	return ids
}

// Contains reports whether a module with id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Lookup returns the module registered under id.
func (r *Registry) Lookup(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return Entry{}, &NotFoundError{Query: fmt.Sprintf("id %q", id)}
	}
	return r.entries[i], nil
}

// WithCapability returns the modules having c, in registration order.
func (r *Registry) WithCapability(c module.Capability) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Caps.Has(c) {
			out = append(out, e)
		}
	}
	return out
}

// LookupCapability returns the single module having c.
func (r *Registry) LookupCapability(c module.Capability) (Entry, error) {
	matches := r.WithCapability(c)
	return single(matches, "capability "+c.String())
}

// Get returns the module registered under id as a T.
// A module of another type is reported as not found.
func Get[T any](r *Registry, id string) (T, error) {
	var zero T
	e, err := r.Lookup(id)
	if err != nil {
		return zero, err
	}
	m, ok := e.Module.(T)
	if !ok {
		return zero, &NotFoundError{Query: fmt.Sprintf("id %q of type %s", id, typeName[T]())}
	}
	return m, nil
}

// Find returns the single registered module assignable to T.
func Find[T any](r *Registry) (T, error) {
	var zero T
	var matches []Entry
	for _, e := range r.Entries() {
		if _, ok := e.Module.(T); ok {
			matches = append(matches, e)
		}
	}
	e, err := single(matches, "type "+typeName[T]())
	if err != nil {
		return zero, err
	}
	return e.Module.(T), nil
}

func single(matches []Entry, query string) (Entry, error) {
	switch len(matches) {
	case 0:
		return Entry{}, &NotFoundError{Query: query}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, e := range matches {
			ids[i] = e.ID()
		}
		return Entry{}, &AmbiguousModuleError{Query: query, IDs: ids}
	}
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
