package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/txmod/internal/metrics"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime and keep it running",
		Long: `Start the runtime with the modules declared in the config file.

The database is created if it does not exist. Every module is reconciled
against its stored metadata, then the runtime serves until interrupted.
When metrics.address is set, Prometheus metrics are served on /metrics.

Example:
  txmod run --config txmod.yaml
  txmod run --db /tmp/test.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuntime(rootOpts, cmd)
		},
	}
	return cmd
}

func runRuntime(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	out := opts.formatter(cmd)
	err := withRuntime(ctx, opts, out.GetErrWriter(), func(rt *runtime) error {
		metricsErr := make(chan error, 1)
		if addr := rt.cfg.Metrics.Address; addr != "" {
			go func() { metricsErr <- metrics.Serve(ctx, addr, rt.registry) }()
			rt.logger.Info("serving metrics", "address", addr)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Runtime started with %d module(s).\n", rt.engine.Registry().Len())
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

		select {
		case sig := <-sigChan:
			rt.logger.Info("received signal, shutting down", "signal", sig)
		case err := <-metricsErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "metrics server failed", err)
			}
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}

		rt.logger.Info("runtime stopping")
		return nil
	})
	if err != nil {
		return reportError(out, err)
	}
	return nil
}
