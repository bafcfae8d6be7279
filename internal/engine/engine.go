package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/module"
	"github.com/roach88/txmod/internal/registry"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/txdata"
)

const tracerName = "github.com/roach88/txmod/internal/engine"

// MetadataStore persists per-module initialization metadata and timer
// progress. *store.Store implements it.
type MetadataStore interface {
	ReadModuleMetadata(ctx context.Context, moduleID string) (*store.ModuleMetadata, error)
	PersistModuleMetadata(ctx context.Context, md store.ModuleMetadata) error
	MarkNeedsInitialization(ctx context.Context, moduleID string, at time.Time) (bool, error)
	RemoveModuleMetadata(ctx context.Context, moduleID string) error
	ModuleIDs(ctx context.Context) ([]string, error)
	ReadTimerContext(ctx context.Context, moduleID string) (store.TimerContext, bool, error)
	PersistTimerContext(ctx context.Context, moduleID string, tc store.TimerContext, now time.Time) error
}

var _ MetadataStore = (*store.Store)(nil)

// dispatchEntry is a registered module with the policies resolved at start.
type dispatchEntry struct {
	registry.Entry
	policies txdata.Policies
}

// Engine is the module runtime of one host DB.
//
// Thread-safety model:
//   - Register, Start and Stop are serialized by one mutex
//   - State, EnsureReady and the commit hooks are lock-free and safe from
//     any goroutine
//
// INVARIANTS:
//   - modules is written once, before the state becomes STARTED, and never
//     changes afterwards; it is the dispatch order of every transaction
//   - FAILED and DESTROYED are final
type Engine struct {
	db       *host.DB
	meta     MetadataStore
	registry *registry.Registry

	clock        Clock
	logger       *slog.Logger
	observer     Observer
	tracer       trace.Tracer
	timing       TimingStrategy
	pollInterval time.Duration
	pollAttempts int

	mu        sync.Mutex // guards lifecycle transitions
	state     stateCell
	modules   []dispatchEntry
	scheduler *scheduler

	// committed counts committed mutating transactions; it feeds the
	// scheduler's load estimate.
	committed atomic.Uint64
}

// New creates an Engine for db and registers it as db's commit handler.
// The engine stays registered for the life of db: transactions before
// Start or after Stop fail with a StateError.
func New(db *host.DB, meta MetadataStore, opts ...Option) *Engine {
	e := &Engine{
		db:           db,
		meta:         meta,
		registry:     registry.New(),
		clock:        SystemClock(),
		logger:       slog.Default(),
		observer:     NopObserver{},
		tracer:       otel.Tracer(tracerName),
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.timing == nil {
		e.timing = NewAdaptiveTiming(DefaultAdaptiveSettings())
	}

	db.RegisterHandler(e)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state.load()
}

// DB returns the host DB the engine intercepts.
func (e *Engine) DB() *host.DB {
	return e.db
}

// Register adds a module. Legal only while FRESH.
func (e *Engine) Register(m module.Module) error {
	// Checked before locking so a hook calling Register during start fails
	// instead of waiting on the lifecycle mutex.
	if s := e.State(); s != StateFresh {
		return illegalState("register", s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.State(); s != StateFresh {
		return illegalState("register", s)
	}

	entry, err := e.registry.Register(m)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	e.logger.Info("module registered", "module", entry.ID(), "capabilities", entry.Caps.String())
	return nil
}

// Registry returns the module registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Lookup returns the module registered under id.
func (e *Engine) Lookup(id string) (module.Module, error) {
	entry, err := e.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return entry.Module, nil
}

// GetModule returns the module registered under id as a T.
func GetModule[T any](e *Engine, id string) (T, error) {
	return registry.Get[T](e.registry, id)
}

// FindModule returns the single registered module assignable to T.
func FindModule[T any](e *Engine) (T, error) {
	return registry.Find[T](e.registry)
}

// Start brings the runtime from FRESH to STARTED: it reconciles every
// module, runs Starter hooks, opens the handshake and starts the timer
// scheduler.
//
// Concurrent callers are serialized; after the first returns, the others
// observe STARTED (no-op) or FAILED (StateError). Any failure moves the
// runtime to FAILED for good.
func (e *Engine) Start(ctx context.Context) error {
	if e.isStarting(ctx) {
		return &StateError{Code: ErrCodeReentrant, Op: "start", State: e.State(), Message: "start called from inside start"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := e.State(); s {
	case StateFresh:
	case StateStarted:
		e.logger.Info("runtime already started")
		return nil
	default:
		return illegalState("start", s)
	}

	e.modules = e.snapshotModules()
	e.state.store(StateStarting)
	began := time.Now()

	ctx, span := e.tracer.Start(withStarting(ctx, e), "txmod.start",
		trace.WithAttributes(attribute.Int("txmod.modules", len(e.modules))))
	defer span.End()

	e.logger.Info("runtime starting", "modules", len(e.modules))

	if err := e.start(ctx); err != nil {
		e.state.store(StateFailed)
		e.observer.StartupFinished(false, time.Since(began))
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		e.logger.Error("runtime failed to start", "error", err)
		return err
	}

	e.state.store(StateStarted)
	e.observer.StartupFinished(true, time.Since(began))
	e.logger.Info("runtime started", "duration", time.Since(began))

	e.scheduler = newScheduler(e, e.timerModules())
	e.scheduler.start()
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		return err
	}

	for _, d := range e.modules {
		if !d.Caps.Has(module.CapStarter) {
			continue
		}
		if err := d.Module.(module.Starter).Start(ctx, e.db); err != nil {
			return &InitializationError{ModuleID: d.ID(), Action: ActionStart, Err: err}
		}
	}
	return nil
}

func (e *Engine) snapshotModules() []dispatchEntry {
	entries := e.registry.Entries()
	out := make([]dispatchEntry, len(entries))
	for i, entry := range entries {
		out[i] = dispatchEntry{Entry: entry, policies: entry.Module.Config().InclusionPolicies()}
	}
	return out
}

func (e *Engine) timerModules() []dispatchEntry {
	var out []dispatchEntry
	for _, d := range e.modules {
		if d.Caps.Has(module.CapTimerDriven) {
			out = append(out, d)
		}
	}
	return out
}

// Stop shuts the runtime down: it stops the timer scheduler, calls every
// module's Shutdown in registration order and moves to DESTROYED. Shutdown
// errors are joined and returned; the runtime is destroyed regardless.
//
// Stop is a no-op with a warning when FRESH or FAILED.
//
// Stop does not wait for in-flight dispatches. A transaction that passed
// the handshake while STARTED may still call BeforeCommit, AfterCommit or
// AfterRollback on a module after its Shutdown returned.
func (e *Engine) Stop(ctx context.Context) error {
	if e.isStarting(ctx) {
		return &StateError{Code: ErrCodeReentrant, Op: "stop", State: e.State(), Message: "stop called from inside start"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := e.State(); s {
	case StateStarted:
	case StateFresh, StateFailed:
		e.logger.Warn("stop ignored: runtime is not running", "state", s.String())
		return nil
	default:
		return illegalState("stop", s)
	}

	e.state.store(StateStopping)
	e.logger.Info("runtime stopping")

	if e.scheduler != nil {
		e.scheduler.stop()
		e.scheduler = nil
	}

	var errs []error
	for _, d := range e.modules {
		if err := d.Module.Shutdown(ctx); err != nil {
			e.logger.Error("module shutdown failed", "module", d.ID(), "error", err)
			errs = append(errs, fmt.Errorf("module %q: shutdown: %w", d.ID(), err))
		}
	}

	e.state.store(StateDestroyed)
	e.logger.Info("runtime stopped")
	return errors.Join(errs...)
}
