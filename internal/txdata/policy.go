package txdata

import (
	"slices"
	"strings"

	"github.com/roach88/txmod/internal/value"
)

// EntityPolicy decides whether a module is interested in an entity.
type EntityPolicy interface {
	IncludeEntity(e Entity) bool

	// Describe returns a stable description used in configuration fingerprints.
	Describe() value.Value
}

// PropertyPolicy decides whether a module is interested in one property of an entity.
type PropertyPolicy interface {
	IncludeProperty(key string, e Entity) bool
	Describe() value.Value
}

// Policies is the inclusion policy set of a module. Nil members fall back to
// ExcludeInternal and AllProperties.
type Policies struct {
	Entities   EntityPolicy
	Properties PropertyPolicy
}

// DefaultPolicies includes every user entity and every property.
func DefaultPolicies() Policies {
	return Policies{Entities: ExcludeInternal(), Properties: AllProperties()}
}

func (p Policies) entities() EntityPolicy {
	if p.Entities == nil {
		return ExcludeInternal()
	}
	return p.Entities
}

func (p Policies) properties() PropertyPolicy {
	if p.Properties == nil {
		return AllProperties()
	}
	return p.Properties
}

// Describe returns the fingerprint contribution of the policy set.
func (p Policies) Describe() value.Value {
	return value.Object{
		"entities":   p.entities().Describe(),
		"properties": p.properties().Describe(),
	}
}

type includeAll struct{}

// IncludeAll includes every entity, module-owned kinds included.
func IncludeAll() EntityPolicy { return includeAll{} }

func (includeAll) IncludeEntity(Entity) bool { return true }
func (includeAll) Describe() value.Value     { return value.Object{"type": value.String("all")} }

type includeNone struct{}

// IncludeNone includes nothing; the module never sees a transaction.
func IncludeNone() EntityPolicy { return includeNone{} }

func (includeNone) IncludeEntity(Entity) bool { return false }
func (includeNone) Describe() value.Value     { return value.Object{"type": value.String("none")} }

type excludeInternal struct{}

// ExcludeInternal includes every entity whose kind is not module-owned.
func ExcludeInternal() EntityPolicy { return excludeInternal{} }

func (excludeInternal) IncludeEntity(e Entity) bool { return !e.Internal() }
func (excludeInternal) Describe() value.Value {
	return value.Object{"type": value.String("exclude-internal")}
}

type kinds []string

// Kinds includes entities of the listed kinds.
func Kinds(names ...string) EntityPolicy {
	k := slices.Clone(names)
	slices.Sort(k)
	return kinds(slices.Compact(k))
}

func (k kinds) IncludeEntity(e Entity) bool {
	_, found := slices.BinarySearch(k, e.Kind)
	return found
}

func (k kinds) Describe() value.Value {
	return value.Object{"type": value.String("kinds"), "kinds": stringList(k)}
}

type allOf []EntityPolicy

// AllOf includes an entity only when every policy does.
func AllOf(policies ...EntityPolicy) EntityPolicy {
	return allOf(slices.Clone(policies))
}

func (a allOf) IncludeEntity(e Entity) bool {
	for _, p := range a {
		if !p.IncludeEntity(e) {
			return false
		}
	}
	return true
}

func (a allOf) Describe() value.Value {
	parts := make(value.List, len(a))
	for i, p := range a {
		parts[i] = p.Describe()
	}
	return value.Object{"type": value.String("all-of"), "policies": parts}
}

type allProperties struct{}

// AllProperties includes every property.
func AllProperties() PropertyPolicy { return allProperties{} }

func (allProperties) IncludeProperty(string, Entity) bool { return true }
func (allProperties) Describe() value.Value {
	return value.Object{"type": value.String("all")}
}

type propertyKeys []string

// PropertyKeys includes only the listed property keys.
func PropertyKeys(keys ...string) PropertyPolicy {
	k := slices.Clone(keys)
	slices.Sort(k)
	return propertyKeys(slices.Compact(k))
}

func (p propertyKeys) IncludeProperty(key string, _ Entity) bool {
	_, found := slices.BinarySearch(p, key)
	return found
}

func (p propertyKeys) Describe() value.Value {
	return value.Object{"type": value.String("keys"), "keys": stringList(p)}
}

type excludePropertyPrefix string

// ExcludePropertyPrefix drops properties whose key starts with prefix.
func ExcludePropertyPrefix(prefix string) PropertyPolicy {
	return excludePropertyPrefix(prefix)
}

func (p excludePropertyPrefix) IncludeProperty(key string, _ Entity) bool {
	return !strings.HasPrefix(key, string(p))
}

func (p excludePropertyPrefix) Describe() value.Value {
	return value.Object{"type": value.String("exclude-prefix"), "prefix": value.String(string(p))}
}

func stringList(s []string) value.List {
	out := make(value.List, len(s))
	for i, v := range s {
		out[i] = value.String(v)
	}
	return out
}
