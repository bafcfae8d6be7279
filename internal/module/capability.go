package module

import "strings"

// Capability is one optional behavior of a module.
type Capability uint8

const (
	CapCommitObserver Capability = 1 << iota
	CapRollbackObserver
	CapStarter
	CapTimerDriven
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapCommitObserver, "commit-observer"},
	{CapRollbackObserver, "rollback-observer"},
	{CapStarter, "starter"},
	{CapTimerDriven, "timer-driven"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return "unknown"
}

// CapabilitySet is the set of optional behaviors a module implements.
type CapabilitySet uint8

// Capabilities resolves the optional interfaces m implements.
func Capabilities(m Module) CapabilitySet {
	var set CapabilitySet
	if _, ok := m.(CommitObserver); ok {
		set |= CapabilitySet(CapCommitObserver)
	}
	if _, ok := m.(RollbackObserver); ok {
		set |= CapabilitySet(CapRollbackObserver)
	}
	if _, ok := m.(Starter); ok {
		set |= CapabilitySet(CapStarter)
	}
	if _, ok := m.(TimerDriven); ok {
		set |= CapabilitySet(CapTimerDriven)
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

func (s CapabilitySet) String() string {
	var names []string
	for _, n := range capabilityNames {
		if s.Has(n.c) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
