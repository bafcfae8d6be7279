package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/txmod/internal/config"
	"github.com/roach88/txmod/internal/engine"
	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/metrics"
	"github.com/roach88/txmod/internal/modules"
	"github.com/roach88/txmod/internal/store"
	"github.com/roach88/txmod/internal/telemetry"
)

// loadConfig loads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// runtime is an opened store with an engine and its configured modules
// registered, ready to start.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	db       *host.DB
	engine   *engine.Engine
	registry *prometheus.Registry

	shutdownTracing func(context.Context) error
}

// openRuntime builds a runtime from cfg. Logs go to logW.
func openRuntime(ctx context.Context, cfg config.Config, catalog *modules.Catalog, logW io.Writer) (*runtime, error) {
	logger := config.NewLogger(cfg.Log, logW)

	mods, err := catalog.BuildAll(cfg.Modules, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid module configuration", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := prometheus.NewRegistry()
	db := host.New(st, host.WithLogger(logger))
	eng := engine.New(db, st,
		engine.WithLogger(logger),
		engine.WithPollInterval(cfg.Handshake.PollInterval),
		engine.WithPollAttempts(cfg.Handshake.PollAttempts),
		engine.WithTimingStrategy(timingStrategy(cfg.Scheduler)),
		engine.WithObserver(metrics.NewCollector(reg)),
	)

	rt := &runtime{
		cfg:             cfg,
		logger:          logger,
		store:           st,
		db:              db,
		engine:          eng,
		registry:        reg,
		shutdownTracing: shutdownTracing,
	}

	for _, m := range mods {
		if err := eng.Register(m); err != nil {
			_ = rt.close(ctx)
			return nil, WrapExitError(ExitCommandError, "failed to register module", err)
		}
	}
	return rt, nil
}

func timingStrategy(s config.SchedulerConfig) engine.TimingStrategy {
	if s.Mode == config.SchedulerFixed {
		return engine.FixedDelay(s.Delay)
	}
	return engine.NewAdaptiveTiming(engine.AdaptiveSettings{
		Delta:         s.Delta,
		DefaultDelay:  s.Delay,
		MinDelay:      s.MinDelay,
		MaxDelay:      s.MaxDelay,
		BusyThreshold: s.Busy,
	})
}

func (r *runtime) start(ctx context.Context) error {
	if err := r.engine.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "runtime failed to start", err)
	}
	return nil
}

// close stops the engine if it is running, closes the store and flushes
// traces. Every step runs; errors are joined.
func (r *runtime) close(ctx context.Context) error {
	var errs []error
	if err := r.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop runtime: %w", err))
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := r.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	return errors.Join(errs...)
}

// withRuntime opens and starts a runtime, runs fn and shuts it down.
func withRuntime(ctx context.Context, opts *RootOptions, logW io.Writer, fn func(*runtime) error) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	rt, err := openRuntime(ctx, cfg, modules.Builtin(), logW)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = WrapExitError(ExitFailure, "shutdown failed", closeErr)
		}
	}()

	if err := rt.start(ctx); err != nil {
		return err
	}
	return fn(rt)
}
