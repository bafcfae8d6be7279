// Package host is the transactional data store the runtime sits behind.
//
// A DB stores entities in a store.Store. Each Update or View runs a body
// against a buffered Tx, then commits:
//
//  1. gates (handlers implementing Gate) admit or reject the transaction
//  2. handlers' BeforeCommit run in registration order; an error rolls back
//     and handlers that already returned a state get AfterRollback
//  3. buffered writes are flushed in one SQL transaction; a flush failure
//     sends AfterRollback to every handler
//  4. on success every handler gets AfterCommit
//
// Gates run before the commit lock is taken, so a transaction waiting in a
// gate never blocks other commits.
package host
