package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
)

// Handler observes every transaction of a DB.
//
// BeforeCommit runs before any write reaches the store and may write
// through tx; those writes commit atomically with the transaction but are
// not part of data. A returned error rolls the transaction back. The state
// returned is handed back to AfterCommit or AfterRollback.
//
// Handlers must not open transactions on the same DB from BeforeCommit.
type Handler interface {
	BeforeCommit(ctx context.Context, tx *Tx, data txdata.Data) (any, error)
	AfterCommit(ctx context.Context, data txdata.Data, state any)
	AfterRollback(ctx context.Context, data txdata.Data, state any)
}

// Gate admits transactions before the commit lock is taken. A Handler that
// also implements Gate is asked first; an error rejects the transaction
// without calling any handler.
type Gate interface {
	Admit(ctx context.Context, data txdata.Data) error
}

// DB is a transactional entity store.
//
// Transaction bodies run concurrently; the commit phase (handlers and flush)
// is serialized, so handlers see a stable store. Body reads are not
// isolated from concurrent commits: the last writer wins. The change set
// handed to handlers is computed under the commit lock against the
// committed data, so it always describes what the flush actually changes.
type DB struct {
	store  *store.Store
	ids    IDGenerator
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler

	commitMu sync.Mutex
}

// Option configures a DB.
type Option func(*DB)

// WithIDGenerator sets the transaction id generator (default UUIDv7).
func WithIDGenerator(g IDGenerator) Option {
	return func(db *DB) { db.ids = g }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// New creates a DB over s.
func New(s *store.Store, opts ...Option) *DB {
	db := &DB{
		store:  s,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Store returns the underlying store.
func (db *DB) Store() *store.Store {
	return db.store
}

// RegisterHandler adds h to the handlers called for every transaction.
// Handlers are called in registration order.
func (db *DB) RegisterHandler(h Handler) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.handlers = append(db.handlers, h)
}

func (db *DB) snapshotHandlers() []Handler {
	db.mu.RLock()
	defer db.mu.RUnlock()
	hs := make([]Handler, len(db.handlers))
	copy(hs, db.handlers)
	return hs
}

// Update runs fn in a read-write transaction and commits it.
// If fn returns an error, the transaction is discarded and the error
// returned unchanged; handlers are not called.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	return db.run(ctx, false, fn)
}

// View runs fn in a read-only transaction. Handlers still observe it with
// an empty change set.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	return db.run(ctx, true, fn)
}

func (db *DB) run(ctx context.Context, readOnly bool, fn func(*Tx) error) error {
	tx := newTx(db.ids.Generate(), db.store, readOnly)
	defer func() { tx.done = true }()

	if err := fn(tx); err != nil {
		return err
	}
	return db.commit(ctx, tx)
}

type handled struct {
	h     Handler
	state any
}

func (db *DB) commit(ctx context.Context, tx *Tx) error {
	handlers := db.snapshotHandlers()
	logger := db.logger.With("tx", tx.id)

	// Gates only look at whether anything changed, so the images read by
	// the body are good enough here.
	early := tx.data()
	for _, h := range handlers {
		if g, ok := h.(Gate); ok {
			if err := g.Admit(ctx, early); err != nil {
				logger.Debug("transaction rejected", "error", err)
				return &RollbackError{TxID: tx.id, Err: err}
			}
		}
	}

	db.commitMu.Lock()
	if err := tx.refresh(ctx); err != nil {
		db.commitMu.Unlock()
		return fmt.Errorf("commit transaction %s: %w", tx.id, err)
	}
	data := tx.data()

	var done []handled
	for _, h := range handlers {
		state, err := h.BeforeCommit(ctx, tx, data)
		if err != nil {
			db.commitMu.Unlock()
			logger.Debug("transaction rolled back by handler", "error", err)
			for _, d := range done {
				d.h.AfterRollback(ctx, data, d.state)
			}
			return &RollbackError{TxID: tx.id, Err: err}
		}
		done = append(done, handled{h: h, state: state})
	}

	var flushErr error
	if writes := tx.writes(); len(writes) > 0 {
		_, flushErr = db.store.ApplyBatch(ctx, writes)
	}
	tx.done = true
	db.commitMu.Unlock()

	if flushErr != nil {
		logger.Warn("transaction flush failed", "error", flushErr)
		for _, d := range done {
			d.h.AfterRollback(ctx, data, d.state)
		}
		return fmt.Errorf("commit transaction %s: %w", tx.id, flushErr)
	}

	for _, d := range done {
		d.h.AfterCommit(ctx, data, d.state)
	}
	return nil
}
