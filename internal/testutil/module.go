package testutil

import (
	"context"
	"fmt"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
)

// RecordingModule is a configurable module that writes every hook call to
// a Journal as "<id>.<hook>" (with the state for after-hooks).
//
// Hooks default to success. BeforeCommit returns "<id>-state" unless
// OnBeforeCommit is set.
type RecordingModule struct {
	id      string
	config  module.Config
	journal *Journal

	OnInitialize   func(ctx context.Context, db *host.DB) error
	OnReinitialize func(ctx context.Context, db *host.DB, previous *store.ModuleMetadata) error
	OnStart        func(ctx context.Context, db *host.DB) error
	OnBeforeCommit func(ctx context.Context, tx *host.Tx, data txdata.Data) (any, error)
	OnAfterCommit  func(ctx context.Context, state any) error
	OnShutdown     func(ctx context.Context) error
}

var (
	_ module.Module           = (*RecordingModule)(nil)
	_ module.CommitObserver   = (*RecordingModule)(nil)
	_ module.RollbackObserver = (*RecordingModule)(nil)
	_ module.Starter          = (*RecordingModule)(nil)
)

// NewRecordingModule creates a module with the default configuration.
func NewRecordingModule(id string, journal *Journal) *RecordingModule {
	return &RecordingModule{id: id, config: module.NewConfig(), journal: journal}
}

// WithConfig replaces the configuration and returns the module.
func (m *RecordingModule) WithConfig(c module.Config) *RecordingModule {
	m.config = c
	return m
}

func (m *RecordingModule) ID() string { return m.id }

func (m *RecordingModule) Config() module.Config { return m.config }

func (m *RecordingModule) record(hook string) {
	m.journal.Record(m.id + "." + hook)
}

func (m *RecordingModule) Initialize(ctx context.Context, db *host.DB) error {
	m.record("initialize")
	if m.OnInitialize != nil {
		return m.OnInitialize(ctx, db)
	}
	return nil
}

func (m *RecordingModule) Reinitialize(ctx context.Context, db *host.DB, previous *store.ModuleMetadata) error {
	m.record("reinitialize")
	if m.OnReinitialize != nil {
		return m.OnReinitialize(ctx, db, previous)
	}
	return nil
}

func (m *RecordingModule) Start(ctx context.Context, db *host.DB) error {
	m.record("start")
	if m.OnStart != nil {
		return m.OnStart(ctx, db)
	}
	return nil
}

func (m *RecordingModule) BeforeCommit(ctx context.Context, tx *host.Tx, data txdata.Data) (any, error) {
	m.record("beforeCommit")
	if m.OnBeforeCommit != nil {
		return m.OnBeforeCommit(ctx, tx, data)
	}
	return m.id + "-state", nil
}

func (m *RecordingModule) AfterCommit(ctx context.Context, state any) error {
	m.record(fmt.Sprintf("afterCommit(%v)", state))
	if m.OnAfterCommit != nil {
		return m.OnAfterCommit(ctx, state)
	}
	return nil
}

func (m *RecordingModule) AfterRollback(_ context.Context, state any) error {
	m.record(fmt.Sprintf("afterRollback(%v)", state))
	return nil
}

func (m *RecordingModule) Shutdown(ctx context.Context) error {
	m.record("shutdown")
	if m.OnShutdown != nil {
		return m.OnShutdown(ctx)
	}
	return nil
}
