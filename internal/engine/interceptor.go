package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/txdata"
)

var (
	_ host.Handler = (*Engine)(nil)
	_ host.Gate    = (*Engine)(nil)
)

// Admit implements host.Gate. It runs the handshake before the host takes
// its commit lock, so a transaction waiting for start never blocks the
// nested transactions of the starting goroutine.
func (e *Engine) Admit(ctx context.Context, data txdata.Data) error {
	_, err := e.EnsureReady(ctx, data)
	return err
}

// BeforeCommit implements host.Handler: it dispatches the transaction to
// every module whose filtered view has mutations, in registration order.
//
// A module error stops dispatch; every module with an entry so far,
// the failing one included, gets AfterRollback and a *CommitError is
// returned so the host rolls back. Drift is recorded and dispatch goes on.
func (e *Engine) BeforeCommit(ctx context.Context, tx *host.Tx, data txdata.Data) (any, error) {
	ready, err := e.EnsureReady(ctx, data)
	if err != nil {
		return nil, err
	}
	if !ready || !data.MutationsOccurred() {
		return nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "txmod.dispatch", trace.WithAttributes(attribute.String("txmod.tx", tx.ID())))
	defer span.End()

	states := newCommitStates()
	for _, d := range e.modules {
		view := txdata.Filter(data, d.policies)
		if !view.MutationsOccurred() {
			continue
		}

		state, err := d.Module.BeforeCommit(ctx, tx, view)
		states.set(d.ID(), state)
		if err == nil {
			continue
		}
		if module.IsDrift(err) {
			e.recordDrift(ctx, d.ID(), "before commit", err)
			continue
		}

		e.logger.Info("module rejected transaction",
			"module", d.ID(),
			"tx", tx.ID(),
			"abort", module.IsAbort(err),
			"error", err,
		)
		e.observer.CommitRejected(d.ID())
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected by "+d.ID())

		e.dispatchRollback(ctx, states)
		return nil, &CommitError{ModuleID: d.ID(), TxID: tx.ID(), Err: err}
	}

	span.SetAttributes(attribute.Int("txmod.dispatched", states.Len()))
	e.observer.TransactionDispatched(states.Len())
	return states, nil
}

// AfterCommit implements host.Handler.
func (e *Engine) AfterCommit(ctx context.Context, data txdata.Data, state any) {
	if data.MutationsOccurred() {
		e.committed.Add(1)
	}

	states, _ := state.(*CommitStates)
	if states.Len() == 0 {
		return
	}

	for _, d := range e.modules {
		s, ok := states.Get(d.ID())
		if !ok || !d.Caps.Has(module.CapCommitObserver) {
			continue
		}
		if err := d.Module.(module.CommitObserver).AfterCommit(ctx, s); err != nil {
			e.hookFailed(ctx, d.ID(), "after commit", err)
		}
	}
}

// AfterRollback implements host.Handler. It is called for rollbacks
// decided outside the runtime, such as a failed flush.
func (e *Engine) AfterRollback(ctx context.Context, _ txdata.Data, state any) {
	states, _ := state.(*CommitStates)
	if states.Len() == 0 {
		return
	}
	e.dispatchRollback(ctx, states)
}

func (e *Engine) dispatchRollback(ctx context.Context, states *CommitStates) {
	e.observer.RolledBack()
	for _, d := range e.modules {
		s, ok := states.Get(d.ID())
		if !ok || !d.Caps.Has(module.CapRollbackObserver) {
			continue
		}
		if err := d.Module.(module.RollbackObserver).AfterRollback(ctx, s); err != nil {
			e.hookFailed(ctx, d.ID(), "after rollback", err)
		}
	}
}

// hookFailed handles an error from a hook whose transaction outcome is
// already decided. Drift is recorded; anything else is logged.
func (e *Engine) hookFailed(ctx context.Context, moduleID, hook string, err error) {
	if module.IsDrift(err) {
		e.recordDrift(ctx, moduleID, hook, err)
		return
	}
	e.logger.Error("module hook failed", "module", moduleID, "hook", hook, "error", err)
}

// recordDrift marks a module for reinitialization at the next start.
func (e *Engine) recordDrift(ctx context.Context, moduleID, hook string, cause error) {
	e.observer.DriftSignaled(moduleID)
	e.logger.Warn("module reported drift; it will be reinitialized at next start",
		"module", moduleID,
		"hook", hook,
		"reason", cause,
	)
	marked, err := e.meta.MarkNeedsInitialization(context.WithoutCancel(ctx), moduleID, e.clock.Now())
	switch {
	case err != nil:
		e.logger.Error("failed to record drift", "module", moduleID, "error", err)
	case !marked:
		e.logger.Info("drift not recorded; module has no metadata and will be initialized at next start", "module", moduleID)
	}
}
