package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/store"
)

// Action is what reconciliation does with a module.
type Action string

const (
	ActionInitialize   Action = "INITIALIZE"
	ActionReinitialize Action = "REINITIALIZE"
	ActionSkip         Action = "SKIP"

	// ActionStart labels failures of Starter hooks, which run after
	// reconciliation.
	ActionStart Action = "START"
)

// Decision is the outcome of comparing a module with its stored metadata.
type Decision struct {
	Action Action
	Reason string
}

// Decide chooses the reconciliation action of a module.
//
//   - no metadata: INITIALIZE
//   - corrupt metadata: REINITIALIZE
//   - fingerprint changed: REINITIALIZE
//   - drift recorded: REINITIALIZE
//   - now before the module's InitializeUntil: REINITIALIZE
//   - otherwise: SKIP
func Decide(md *store.ModuleMetadata, corrupt bool, fingerprint string, initializeUntil, now time.Time) Decision {
	switch {
	case corrupt:
		return Decision{ActionReinitialize, "stored metadata is corrupt"}
	case md == nil:
		return Decision{ActionInitialize, "never initialized"}
	case md.Fingerprint != fingerprint:
		return Decision{ActionReinitialize, "configuration changed"}
	case md.NeedsInitialization():
		return Decision{ActionReinitialize, "drift recorded"}
	case !initializeUntil.IsZero() && now.Before(initializeUntil):
		return Decision{ActionReinitialize, "forced until " + initializeUntil.UTC().Format(time.RFC3339)}
	default:
		return Decision{ActionSkip, "up to date"}
	}
}

// reconcile brings every module's derived state in line with its
// configuration, in registration order, then removes metadata of modules
// no longer registered. The first hook failure aborts it; metadata of
// modules reconciled before stays.
func (e *Engine) reconcile(ctx context.Context) error {
	for _, d := range e.modules {
		if err := e.reconcileModule(ctx, d); err != nil {
			return err
		}
	}
	e.removeOrphans(ctx)
	return nil
}

func (e *Engine) reconcileModule(ctx context.Context, d dispatchEntry) error {
	id := d.ID()
	cfg := d.Module.Config()

	fp, err := cfg.Fingerprint()
	if err != nil {
		return &InitializationError{ModuleID: id, Action: ActionInitialize, Err: err}
	}

	md, err := e.meta.ReadModuleMetadata(ctx, id)
	corrupt := errors.Is(err, store.ErrCorruptMetadata)
	if err != nil && !corrupt {
		return &InitializationError{ModuleID: id, Action: ActionInitialize, Err: err}
	}
	if corrupt {
		e.logger.Warn("module metadata is corrupt", "module", id, "error", err)
	}

	now := e.clock.Now()
	decision := Decide(md, corrupt, fp, cfg.InitializeUntil(), now)
	e.observer.ModuleReconciled(id, decision.Action)

	if decision.Action == ActionSkip {
		e.logger.Debug("module up to date", "module", id)
		return nil
	}

	e.logger.Info("reconciling module",
		"module", id,
		"action", string(decision.Action),
		"reason", decision.Reason,
	)

	ctx, span := e.tracer.Start(ctx, "txmod.reconcile", trace.WithAttributes(
		attribute.String("txmod.module", id),
		attribute.String("txmod.action", string(decision.Action)),
	))
	defer span.End()

	if decision.Action == ActionInitialize {
		err = d.Module.Initialize(ctx, e.db)
	} else {
		err = d.Module.Reinitialize(ctx, e.db, md)
	}

	next := store.ModuleMetadata{ModuleID: id, Fingerprint: fp, LastInitializedAt: now}
	if err != nil {
		if !module.IsDrift(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "hook failed")
			return &InitializationError{ModuleID: id, Action: decision.Action, Err: err}
		}
		e.observer.DriftSignaled(id)
		e.logger.Warn("module reported drift during initialization; it will be reinitialized at next start",
			"module", id,
			"reason", err,
		)
		next.NeedsInitializationAt = now
	}

	if err := e.meta.PersistModuleMetadata(ctx, next); err != nil {
		return &InitializationError{ModuleID: id, Action: decision.Action, Err: fmt.Errorf("persist metadata: %w", err)}
	}
	return nil
}

// removeOrphans deletes metadata of modules that are no longer registered.
// Failures are logged and never abort start.
func (e *Engine) removeOrphans(ctx context.Context) {
	ids, err := e.meta.ModuleIDs(ctx)
	if err != nil {
		e.logger.Warn("orphan cleanup skipped", "error", err)
		return
	}

	for _, id := range ids {
		if e.registry.Contains(id) {
			continue
		}
		if err := e.meta.RemoveModuleMetadata(ctx, id); err != nil {
			e.logger.Warn("failed to remove orphaned module metadata", "module", id, "error", err)
			continue
		}
		e.logger.Info("removed metadata of unregistered module", "module", id)
	}
}
