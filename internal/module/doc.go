// Package module defines the contract between the runtime and extension
// modules.
//
// Every module implements Module. Optional behavior is expressed as extra
// interfaces (CommitObserver, RollbackObserver, Starter, TimerDriven); the
// runtime resolves them once at registration into a CapabilitySet.
//
// Hooks report two distinguished errors: Abort, a deliberate rollback of the
// current transaction, and NeedsReinitialization, drift that the runtime
// records and repairs at the next start.
package module
