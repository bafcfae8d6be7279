package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPollInterval is the sleep between two readiness checks.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultPollAttempts bounds the readiness wait (about one second).
	DefaultPollAttempts = 100
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock (default SystemClock).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPollInterval sets the handshake poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithPollAttempts sets how many times the handshake polls before giving up.
func WithPollAttempts(n int) Option {
	return func(e *Engine) { e.pollAttempts = n }
}

// WithObserver sets the event observer (default NopObserver).
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimingStrategy sets the delay strategy of the timer scheduler
// (default AdaptiveTiming with default settings).
func WithTimingStrategy(s TimingStrategy) Option {
	return func(e *Engine) { e.timing = s }
}

// WithTracer sets the tracer (default: the global otel tracer provider).
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}
