package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/txmod/internal/config"
	"github.com/roach88/txmod/internal/engine"
	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/modules"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/testutil"
	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Harness runs one scenario against a real runtime backed by an
// in-memory store, with a manual clock and sequential transaction ids.
type Harness struct {
	store  *store.Store
	clock  *testutil.ManualClock
	rec    *recorder
	logger *slog.Logger

	specs  []ModuleSpec
	engine *engine.Engine
	db     *host.DB
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Steps run in order;
// a step whose outcome differs from its expectation is reported in
// Result.Errors and the scenario goes on. Assertions are evaluated after
// the last step. The runtime is then stopped without tracing.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result := NewResult()
	h := &Harness{
		store:  st,
		clock:  testutil.NewManualClock(time.Time{}),
		rec:    &recorder{result: result},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		specs:  scenario.Modules,
	}

	ctx := context.Background()
	if err := h.boot(); err != nil {
		return nil, fmt.Errorf("failed to register modules: %w", err)
	}
	defer func() { _ = h.engine.Stop(ctx) }()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	h.rec.close()
	return result, nil
}

// boot builds a fresh runtime over the store with the current module specs.
// Each runtime gets its own host DB so a stopped runtime never gates the
// transactions of its successor.
func (h *Harness) boot() error {
	mods, err := h.catalog().BuildAll(moduleConfigs(h.specs), h.logger)
	if err != nil {
		return err
	}

	h.db = host.New(h.store,
		host.WithLogger(h.logger),
		host.WithIDGenerator(host.NewSequenceGenerator("tx")),
	)
	h.engine = engine.New(h.db, h.store,
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
		engine.WithObserver(&traceObserver{rec: h.rec}),
		engine.WithTimingStrategy(engine.FixedDelay(time.Hour)),
	)
	for _, m := range mods {
		if err := h.engine.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// catalog is the built-in catalog plus the scripted module type.
func (h *Harness) catalog() *modules.Catalog {
	scripts := make(map[string]Script, len(h.specs))
	for _, s := range h.specs {
		scripts[s.ID] = s.Script
	}

	c := modules.Builtin()
	c.Add(ScriptType, func(id string, cfg module.BaseConfig, _ *slog.Logger) (module.Module, error) {
		return &scripted{id: id, config: cfg, script: scripts[id], rec: h.rec}, nil
	})
	return c
}

func moduleConfigs(specs []ModuleSpec) []config.ModuleConfig {
	out := make([]config.ModuleConfig, len(specs))
	for i, s := range specs {
		out[i] = s.ModuleConfig
		if out[i].Type == "" {
			out[i].Type = ScriptType
		}
	}
	return out
}

func (h *Harness) execute(ctx context.Context, index int, step Step) error {
	ev := h.rec.add(TraceEvent{Type: EventStep, Name: step.Action, Detail: stepDetail(step)})

	var err error
	switch step.Action {
	case StepStart:
		err = h.engine.Start(ctx)
	case StepStop:
		err = h.engine.Stop(ctx)
	case StepRestart:
		if h.engine.State() == engine.StateStarted {
			if err := h.engine.Stop(ctx); err != nil {
				return fmt.Errorf("stop before restart: %w", err)
			}
		}
		if step.Modules != nil {
			h.specs = step.Modules
		}
		if err := h.boot(); err != nil {
			return err
		}
		err = h.engine.Start(ctx)
	case StepAdvance:
		h.clock.Advance(step.Duration)
	case StepPut:
		err = h.commit(ctx, []Write{{Op: StepPut, Kind: step.Kind, Key: step.Key, Props: step.Props}})
	case StepDelete:
		err = h.commit(ctx, []Write{{Op: StepDelete, Kind: step.Kind, Key: step.Key}})
	case StepTx:
		err = h.commit(ctx, step.Writes)
	}

	got := outcome(err)
	h.rec.setOutcome(ev, got)

	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if got != want {
		msg := fmt.Sprintf("step %d (%s): expected outcome %s, got %s", index, step.Action, want, got)
		if err != nil {
			msg += ": " + err.Error()
		}
		h.rec.result.AddError(msg)
	}

	h.logger.Info("step completed", "step", index, "action", step.Action, "outcome", got)
	return nil
}

func (h *Harness) commit(ctx context.Context, writes []Write) error {
	entities := make([]*txdata.Entity, len(writes))
	for i, w := range writes {
		if w.Op != StepPut {
			continue
		}
		props, err := value.ObjectFromAny(w.Props)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", w.Kind, w.Key, err)
		}
		entities[i] = &txdata.Entity{Kind: w.Kind, Key: w.Key, Props: props}
	}

	return h.db.Update(ctx, func(tx *host.Tx) error {
		for i, w := range writes {
			var err error
			if entities[i] != nil {
				err = tx.Put(ctx, *entities[i])
			} else {
				err = tx.Delete(ctx, txdata.Ref{Kind: w.Kind, Key: w.Key})
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case engine.IsCommitError(err):
		return OutcomeRejected
	case engine.IsInitializationError(err):
		return OutcomeFailed
	case engine.IsStateError(err):
		return OutcomeStateError
	default:
		return OutcomeError
	}
}

// stepDetail is the trace detail of a step: the written refs, or the
// clock advance.
func stepDetail(s Step) string {
	switch s.Action {
	case StepPut, StepDelete:
		return s.Kind + "/" + s.Key
	case StepTx:
		detail := ""
		for i, w := range s.Writes {
			if i > 0 {
				detail += ", "
			}
			detail += w.Op + " " + w.Kind + "/" + w.Key
		}
		return detail
	case StepAdvance:
		return s.Duration.String()
	}
	return ""
}

// traceObserver records the runtime events that are deterministic for a
// scenario. Handshake and timer events depend on scheduling and are left
// out.
type traceObserver struct {
	engine.NopObserver
	rec *recorder
}

func (o *traceObserver) ModuleReconciled(moduleID string, action engine.Action) {
	o.rec.add(TraceEvent{Type: EventRuntime, Name: "reconciled", Module: moduleID, Detail: string(action)})
}

func (o *traceObserver) CommitRejected(moduleID string) {
	o.rec.add(TraceEvent{Type: EventRuntime, Name: "rejected", Module: moduleID})
}

func (o *traceObserver) RolledBack() {
	o.rec.add(TraceEvent{Type: EventRuntime, Name: "rolled_back"})
}

func (o *traceObserver) DriftSignaled(moduleID string) {
	o.rec.add(TraceEvent{Type: EventRuntime, Name: "drift", Module: moduleID})
}
