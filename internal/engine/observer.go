package engine

import "time"

// Observer receives runtime events, typically to export metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	StartupFinished(ok bool, d time.Duration)
	ModuleReconciled(moduleID string, action Action)
	TransactionDispatched(modules int)
	CommitRejected(moduleID string)
	RolledBack()
	DriftSignaled(moduleID string)
	HandshakeWaited(outcome string)
	TimerRun(moduleID string, err error)
}

// Handshake outcomes reported to Observer.HandshakeWaited.
const (
	HandshakeBypassStarting = "bypass_starting"
	HandshakeBypassReadOnly = "bypass_read_only"
	HandshakeWaited         = "waited"
	HandshakeTimeout        = "timeout"
	HandshakeFailed         = "failed"
)

// NopObserver ignores every event.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) StartupFinished(bool, time.Duration) {}
func (NopObserver) ModuleReconciled(string, Action)     {}
func (NopObserver) TransactionDispatched(int)           {}
func (NopObserver) CommitRejected(string)               {}
func (NopObserver) RolledBack()                         {}
func (NopObserver) DriftSignaled(string)                {}
func (NopObserver) HandshakeWaited(string)              {}
func (NopObserver) TimerRun(string, error)              {}
