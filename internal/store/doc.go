// Package store provides SQLite-backed persistence for txmod.
//
// Three tables live in one database:
//   - entities: the host data, keyed by (kind, key), props as canonical JSON
//   - module_metadata: per-module configuration fingerprint, last
//     initialization time and the pending-reinitialization mark
//   - timer_contexts: progress of timer-driven modules
//
// # Ordering
//
// Every multi-row read orders by its key columns with COLLATE BINARY so
// results are identical across runs.
//
// # Time
//
// Timestamps are stored as INTEGER unix milliseconds in UTC. Callers supply
// the time; the store never reads the wall clock.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection: SQLite has a single writer
package store
