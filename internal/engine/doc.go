// Package engine implements the txmod module runtime.
//
// An Engine sits between a host.DB and the registered modules. It is a
// commit handler of the DB and drives four pieces:
//
// State machine:
// FRESH → STARTING → STARTED → STOPPING → DESTROYED, with FAILED reachable
// from STARTING. Register is legal only while FRESH. Start and Stop are
// serialized by one mutex; concurrent Start callers wait and then observe
// the outcome of the first.
//
// Reconciler:
// During STARTING every module is compared with its stored metadata and is
// initialized, reinitialized or skipped (see Decide). Metadata of modules no
// longer registered is removed afterwards.
//
// Handshake:
// Every host transaction passes EnsureReady. Transactions from the starting
// goroutine (recognized by a context marker) and read-only transactions
// pass through without dispatch while STARTING; others poll until STARTED.
//
// Interceptor:
// Each mutating transaction is filtered per module and dispatched in
// registration order. A module error rolls back and sends AfterRollback to
// every module dispatched so far, the failing one included. Drift reported
// by any hook is recorded and repaired at the next start.
//
// Timer-driven modules are run between transactions by a single-goroutine
// scheduler whose pace comes from a TimingStrategy.
package engine
