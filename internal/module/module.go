package module

import (
	"context"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
)

// Module is a unit of extension logic driven by the runtime.
type Module interface {
	// ID is the unique, immutable module identifier.
	ID() string

	// Config returns the module configuration. It must not change while
	// the runtime is running.
	Config() Config

	// Initialize builds the module's derived state from scratch. It runs
	// during startup and may open transactions on db.
	Initialize(ctx context.Context, db *host.DB) error

	// Reinitialize rebuilds derived state after a configuration change or
	// recorded drift. previous is nil when the stored metadata was unusable.
	Reinitialize(ctx context.Context, db *host.DB, previous *store.ModuleMetadata) error

	// BeforeCommit is called for every committing transaction whose
	// filtered view has mutations. The returned state is handed back to
	// AfterCommit or AfterRollback.
	BeforeCommit(ctx context.Context, tx *host.Tx, data txdata.Data) (any, error)

	// Shutdown releases resources when the runtime stops.
	Shutdown(ctx context.Context) error
}

// CommitObserver is implemented by modules that act after a commit.
type CommitObserver interface {
	AfterCommit(ctx context.Context, state any) error
}

// RollbackObserver is implemented by modules that compensate after a rollback.
type RollbackObserver interface {
	AfterRollback(ctx context.Context, state any) error
}

// Starter is implemented by modules that need a hook after every module has
// been reconciled, before transactions are admitted.
type Starter interface {
	Start(ctx context.Context, db *host.DB) error
}

// Base provides no-op Initialize, Reinitialize and Shutdown for embedding.
type Base struct{}

func (Base) Initialize(context.Context, *host.DB) error { return nil }

func (Base) Reinitialize(context.Context, *host.DB, *store.ModuleMetadata) error { return nil }

func (Base) Shutdown(context.Context) error { return nil }
