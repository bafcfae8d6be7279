package txdata

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/txmod/internal/value"
)

// InternalKindPrefix marks kinds owned by modules (derived state) rather than users.
const InternalKindPrefix = "_"

// Ref identifies an entity.
type Ref struct {
	Kind string
	Key  string
}

func (r Ref) String() string {
	return r.Kind + "/" + r.Key
}

// Entity is a keyed record in the host store.
type Entity struct {
	Kind  string
	Key   string
	Props value.Object
}

// Ref returns the entity's identity.
func (e Entity) Ref() Ref {
	return Ref{Kind: e.Kind, Key: e.Key}
}

// Internal reports whether the entity belongs to a module-owned kind.
func (e Entity) Internal() bool {
	return strings.HasPrefix(e.Kind, InternalKindPrefix)
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	return Entity{Kind: e.Kind, Key: e.Key, Props: e.Props.Clone()}
}

// Validate checks that the entity can be stored.
func (e Entity) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("entity kind is empty")
	}
	if e.Key == "" {
		return fmt.Errorf("entity %s: key is empty", e.Kind)
	}
	for k, v := range e.Props {
		if v == nil {
			return fmt.Errorf("entity %s: property %q is null", e.Ref(), k)
		}
	}
	return nil
}

// Op is the kind of change applied to an entity.
type Op int

const (
	// OpCreated means the entity did not exist before the transaction.
	OpCreated Op = iota + 1
	// OpUpdated means the entity existed and at least one property changed.
	OpUpdated
	// OpDeleted means the entity existed and was removed.
	OpDeleted
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Change is one entity mutation with its before and after images.
// Before is nil for creations, After is nil for deletions.
type Change struct {
	Op     Op
	Before *Entity
	After  *Entity
}

// Ref returns the identity of the changed entity.
func (c Change) Ref() Ref {
	if c.After != nil {
		return c.After.Ref()
	}
	return c.Before.Ref()
}

// Current returns the after image, or the before image for deletions.
func (c Change) Current() Entity {
	if c.After != nil {
		return *c.After
	}
	return *c.Before
}

// ChangedKeys returns the sorted property keys whose values differ between
// the before and after images. Creations and deletions report every key.
func (c Change) ChangedKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	switch {
	case c.Before == nil && c.After != nil:
		for k := range c.After.Props {
			add(k)
		}
	case c.After == nil && c.Before != nil:
		for k := range c.Before.Props {
			add(k)
		}
	case c.Before != nil && c.After != nil:
		for k, v := range c.After.Props {
			if old, ok := c.Before.Props[k]; !ok || !value.Equal(old, v) {
				add(k)
			}
		}
		for k := range c.Before.Props {
			if _, ok := c.After.Props[k]; !ok {
				add(k)
			}
		}
	}

	slices.Sort(keys)
	return keys
}
