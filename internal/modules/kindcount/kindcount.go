// Package kindcount implements a module that keeps a running count of
// entities per kind.
//
// Counts live in the host store as internal entities of kind "_count",
// keyed "<module id>/<counted kind>", with a single "count" property.
// Several instances can share a store without seeing each other's counts. They are
// rebuilt from a full scan at initialization, maintained incrementally in
// the committing transaction, and verified one kind at a time in the
// background.
package kindcount

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Type is the catalog name of the module.
const Type = "kindcount"

// CountKind is the kind of the derived count entities.
const CountKind = txdata.InternalKindPrefix + "count"

// Settings keys.
const (
	SettingAbortKind      = "abort_kind"
	SettingVerifyInterval = "verify_interval"
)

// Deltas is the commit state: the count change per kind.
type Deltas map[string]int64

// Module counts entities per kind.
type Module struct {
	id     string
	config module.BaseConfig
	logger *slog.Logger

	abortKind      string
	verifyInterval time.Duration

	committed  atomic.Int64
	rolledBack atomic.Int64
}

var (
	_ module.Module           = (*Module)(nil)
	_ module.CommitObserver   = (*Module)(nil)
	_ module.RollbackObserver = (*Module)(nil)
	_ module.TimerDriven      = (*Module)(nil)
)

// New creates a kindcount module. Recognized settings:
//
//	abort_kind       string   commits touching this kind are rolled back
//	verify_interval  string   minimum time between background checks ("30s")
func New(id string, cfg module.BaseConfig, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{id: id, config: cfg, logger: logger.With("module", id)}

	if v, ok := cfg.Setting(SettingAbortKind); ok {
		s, ok := v.(value.String)
		if !ok {
			return nil, fmt.Errorf("kindcount %q: %s must be a string", id, SettingAbortKind)
		}
		m.abortKind = string(s)
	}
	if v, ok := cfg.Setting(SettingVerifyInterval); ok {
		s, ok := v.(value.String)
		if !ok {
			return nil, fmt.Errorf("kindcount %q: %s must be a duration string", id, SettingVerifyInterval)
		}
		d, err := time.ParseDuration(string(s))
		if err != nil {
			return nil, fmt.Errorf("kindcount %q: %s: %w", id, SettingVerifyInterval, err)
		}
		m.verifyInterval = d
	}
	return m, nil
}

func (m *Module) ID() string { return m.id }

func (m *Module) Config() module.Config { return m.config }

// Committed returns the number of committed transactions that changed a count.
func (m *Module) Committed() int64 { return m.committed.Load() }

// RolledBack returns the number of rolled back transactions the module saw.
func (m *Module) RolledBack() int64 { return m.rolledBack.Load() }

func (m *Module) counts(e txdata.Entity) bool {
	if e.Internal() {
		return false
	}
	policy := m.config.Policies.Entities
	return policy == nil || policy.IncludeEntity(e)
}

// Initialize rebuilds every count from a full scan.
func (m *Module) Initialize(ctx context.Context, db *host.DB) error {
	return m.rebuild(ctx, db)
}

// Reinitialize rebuilds every count from a full scan.
func (m *Module) Reinitialize(ctx context.Context, db *host.DB, previous *store.ModuleMetadata) error {
	if previous != nil {
		m.logger.Info("rebuilding counts", "last_initialized_at", previous.LastInitializedAt)
	}
	return m.rebuild(ctx, db)
}

func (m *Module) rebuild(ctx context.Context, db *host.DB) error {
	kinds, err := db.Store().ListKinds(ctx)
	if err != nil {
		return fmt.Errorf("list kinds: %w", err)
	}

	return db.Update(ctx, func(tx *host.Tx) error {
		stale, err := tx.Scan(ctx, CountKind)
		if err != nil {
			return err
		}
		for _, e := range stale {
			if _, ok := m.countedKind(e.Key); !ok {
				continue
			}
			if err := tx.Delete(ctx, e.Ref()); err != nil {
				return err
			}
		}

		total := 0
		for _, kind := range kinds {
			n, err := m.recount(ctx, tx, kind)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			if err := tx.Put(ctx, countEntity(m.countRef(kind), n)); err != nil {
				return err
			}
			total++
		}
		m.logger.Info("counts rebuilt", "kinds", total)
		return nil
	})
}

func (m *Module) recount(ctx context.Context, tx *host.Tx, kind string) (int64, error) {
	entities, err := tx.Scan(ctx, kind)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entities {
		if m.counts(e) {
			n++
		}
	}
	return n, nil
}

// BeforeCommit applies the transaction's count changes in the same
// transaction and returns them as Deltas.
func (m *Module) BeforeCommit(ctx context.Context, tx *host.Tx, data txdata.Data) (any, error) {
	deltas := Deltas{}
	for _, c := range data.Created() {
		deltas[c.After.Kind]++
	}
	for _, c := range data.Deleted() {
		deltas[c.Before.Kind]--
	}

	if m.abortKind != "" {
		if _, touched := deltas[m.abortKind]; touched || touches(data.Updated(), m.abortKind) {
			return nil, module.Abort(fmt.Sprintf("kind %q is read-only", m.abortKind))
		}
	}

	kinds := make([]string, 0, len(deltas))
	for kind, d := range deltas {
		if d != 0 {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)

	for _, kind := range kinds {
		ref := m.countRef(kind)
		current, err := stored(ctx, tx, ref)
		if err != nil {
			return deltas, err
		}
		next := current + deltas[kind]
		switch {
		case next < 0:
			return deltas, module.NeedsReinitialization(fmt.Sprintf("count of %q would become %d", kind, next))
		case next == 0:
			err = tx.Delete(ctx, ref)
		default:
			err = tx.Put(ctx, countEntity(ref, next))
		}
		if err != nil {
			return deltas, err
		}
	}
	return deltas, nil
}

func touches(changes []txdata.Change, kind string) bool {
	for _, c := range changes {
		if c.After != nil && c.After.Kind == kind {
			return true
		}
	}
	return false
}

// AfterCommit implements module.CommitObserver.
func (m *Module) AfterCommit(_ context.Context, state any) error {
	deltas, _ := state.(Deltas)
	if len(deltas) == 0 {
		return nil
	}
	m.committed.Add(1)
	m.logger.Debug("counts committed", "deltas", len(deltas))
	return nil
}

// AfterRollback implements module.RollbackObserver. Counts are written in
// the rolled back transaction, so there is nothing to undo.
func (m *Module) AfterRollback(_ context.Context, state any) error {
	m.rolledBack.Add(1)
	m.logger.Debug("counts discarded", "state", state)
	return nil
}

// TimerSettings implements module.TimerDriven.
func (m *Module) TimerSettings() module.TimerSettings {
	return module.TimerSettings{MinInterval: m.verifyInterval}
}

// DoSomeWork verifies the stored count of one kind against a recount,
// rotating through the kinds in order. A mismatch is reported as drift.
func (m *Module) DoSomeWork(ctx context.Context, db *host.DB, last module.TimerContext) (module.TimerContext, error) {
	kinds, err := m.candidates(ctx, db)
	if err != nil {
		return last, err
	}
	if len(kinds) == 0 {
		return last, nil
	}

	cursor, _ := last.State["cursor"].(value.String)
	kind := kinds[0]
	if i, found := slices.BinarySearch(kinds, string(cursor)); cursor != "" {
		if found {
			i++
		}
		kind = kinds[i%len(kinds)]
	}

	ref := m.countRef(kind)
	var before, actual, after int64
	err = db.View(ctx, func(tx *host.Tx) error {
		var err error
		if before, err = stored(ctx, tx, ref); err != nil {
			return err
		}
		if actual, err = m.recount(ctx, tx, kind); err != nil {
			return err
		}
		after, err = stored(ctx, tx, ref)
		return err
	})
	if err != nil {
		return last, err
	}

	next := module.TimerContext{State: value.Object{"cursor": value.String(kind)}}
	if before != after {
		// A commit landed mid-check; try again next round.
		return next, nil
	}
	if actual != before {
		return last, module.NeedsReinitialization(fmt.Sprintf("count of %q is %d, recount found %d", kind, before, actual))
	}
	return next, nil
}

// candidates lists the kinds worth verifying: every user kind in the store
// and every kind with a stored count.
func (m *Module) candidates(ctx context.Context, db *host.DB) ([]string, error) {
	kinds, err := db.Store().ListKinds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list kinds: %w", err)
	}
	counted, err := db.Store().ReadKind(ctx, CountKind)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, k := range kinds {
		if !strings.HasPrefix(k, txdata.InternalKindPrefix) {
			out = append(out, k)
		}
	}
	for _, e := range counted {
		if kind, ok := m.countedKind(e.Key); ok {
			out = append(out, kind)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Shutdown implements module.Module.
func (m *Module) Shutdown(context.Context) error {
	m.logger.Debug("shutdown", "committed", m.committed.Load(), "rolled_back", m.rolledBack.Load())
	return nil
}

// CountKey is the key of the count entity module moduleID keeps for kind.
func CountKey(moduleID, kind string) string {
	return moduleID + "/" + kind
}

func (m *Module) countRef(kind string) txdata.Ref {
	return txdata.Ref{Kind: CountKind, Key: CountKey(m.id, kind)}
}

// countedKind returns the counted kind of a count entity key owned by m.
func (m *Module) countedKind(key string) (string, bool) {
	return strings.CutPrefix(key, m.id+"/")
}

func stored(ctx context.Context, tx *host.Tx, ref txdata.Ref) (int64, error) {
	e, found, err := tx.Get(ctx, ref)
	if err != nil || !found {
		return 0, err
	}
	n, ok := e.Props["count"].(value.Int)
	if !ok {
		return 0, module.NeedsReinitialization(fmt.Sprintf("count entity %q has no integer count", ref.Key))
	}
	return int64(n), nil
}

func countEntity(ref txdata.Ref, n int64) txdata.Entity {
	return txdata.Entity{Kind: ref.Kind, Key: ref.Key, Props: value.Object{"count": value.Int(n)}}
}

// Count reads the count module moduleID keeps for kind.
func Count(ctx context.Context, db *host.DB, moduleID, kind string) (int64, error) {
	var n int64
	err := db.View(ctx, func(tx *host.Tx) error {
		var err error
		n, err = stored(ctx, tx, txdata.Ref{Kind: CountKind, Key: CountKey(moduleID, kind)})
		return err
	})
	return n, err
}
