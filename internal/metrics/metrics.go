// Package metrics exposes runtime events as Prometheus metrics.
//
// Collector implements engine.Observer, so wiring it is one option:
//
//	reg := prometheus.NewRegistry()
//	e := engine.New(db, st, engine.WithObserver(metrics.NewCollector(reg)))
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/txmod/internal/engine"
)

const namespace = "txmod"

// Collector records engine events.
type Collector struct {
	startups        *prometheus.CounterVec
	startupDuration prometheus.Histogram
	reconciliations *prometheus.CounterVec
	dispatched      prometheus.Counter
	dispatchedTo    prometheus.Histogram
	commitErrors    *prometheus.CounterVec
	rollbacks       prometheus.Counter
	drift           *prometheus.CounterVec
	handshakes      *prometheus.CounterVec
	timerRuns       *prometheus.CounterVec
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics with reg.
// It panics if a metric is already registered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		startups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startups_total",
			Help:      "Runtime start attempts by result.",
		}, []string{"result"}),
		startupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_duration_seconds",
			Help:      "Time from STARTING to STARTED or FAILED.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_reconciliations_total",
			Help:      "Reconciliation decisions by module and action.",
		}, []string{"module", "action"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_dispatched_total",
			Help:      "Transactions dispatched to modules without rejection.",
		}),
		dispatchedTo: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_modules",
			Help:      "Number of modules with a non-empty view per dispatched transaction.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		commitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_commit_errors_total",
			Help:      "Transactions rolled back by a module, by module.",
		}, []string{"module"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks delivered to modules.",
		}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_signals_total",
			Help:      "Reinitialization requests by module.",
		}, []string{"module"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_waits_total",
			Help:      "Transactions that met a starting runtime, by outcome.",
		}, []string{"outcome"}),
		timerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_runs_total",
			Help:      "Timer-driven task runs by module and result.",
		}, []string{"module", "result"}),
	}

	reg.MustRegister(
		c.startups,
		c.startupDuration,
		c.reconciliations,
		c.dispatched,
		c.dispatchedTo,
		c.commitErrors,
		c.rollbacks,
		c.drift,
		c.handshakes,
		c.timerRuns,
	)
	return c
}

// StartupFinished implements engine.Observer.
func (c *Collector) StartupFinished(ok bool, d time.Duration) {
	c.startups.WithLabelValues(result(ok)).Inc()
	c.startupDuration.Observe(d.Seconds())
}

// ModuleReconciled implements engine.Observer.
func (c *Collector) ModuleReconciled(moduleID string, action engine.Action) {
	c.reconciliations.WithLabelValues(moduleID, string(action)).Inc()
}

// TransactionDispatched implements engine.Observer.
func (c *Collector) TransactionDispatched(modules int) {
	c.dispatched.Inc()
	c.dispatchedTo.Observe(float64(modules))
}

// CommitRejected implements engine.Observer.
func (c *Collector) CommitRejected(moduleID string) {
	c.commitErrors.WithLabelValues(moduleID).Inc()
}

// RolledBack implements engine.Observer.
func (c *Collector) RolledBack() {
	c.rollbacks.Inc()
}

// DriftSignaled implements engine.Observer.
func (c *Collector) DriftSignaled(moduleID string) {
	c.drift.WithLabelValues(moduleID).Inc()
}

// HandshakeWaited implements engine.Observer.
func (c *Collector) HandshakeWaited(outcome string) {
	c.handshakes.WithLabelValues(outcome).Inc()
}

// TimerRun implements engine.Observer.
func (c *Collector) TimerRun(moduleID string, err error) {
	c.timerRuns.WithLabelValues(moduleID, result(err == nil)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler returns the /metrics handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
