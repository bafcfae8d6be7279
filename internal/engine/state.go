package engine

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a runtime.
type State int32

const (
	StateFresh State = iota
	StateStarting
	StateStarted
	StateStopping
	StateDestroyed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	case StateDestroyed:
		return "DESTROYED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// stateCell holds the current state. Reads are lock-free so the handshake
// never waits on the lifecycle mutex; writes happen under Engine.mu.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State { return State(c.v.Load()) }

func (c *stateCell) store(s State) { c.v.Store(int32(s)) }
