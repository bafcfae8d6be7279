package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/txmod/internal/module"
)

// scheduler runs timer-driven modules one task at a time on a single
// goroutine, rotating through them in registration order. A module whose
// context asks for a later call, or whose MinInterval has not elapsed, is
// passed over.
type scheduler struct {
	e       *Engine
	modules []dispatchEntry

	// Owned by the scheduler goroutine after start.
	contexts map[string]module.TimerContext
	lastRun  map[string]time.Time
	next     int
	load     loadMonitor

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newScheduler(e *Engine, modules []dispatchEntry) *scheduler {
	return &scheduler{
		e:        e,
		modules:  modules,
		contexts: make(map[string]module.TimerContext),
		lastRun:  make(map[string]time.Time),
		load:     loadMonitor{counter: &e.committed},
	}
}

func (s *scheduler) start() {
	logger := s.e.logger
	if len(s.modules) == 0 {
		logger.Debug("no timer-driven modules; scheduler not started")
		return
	}

	// Detached from the caller of Start: the scheduler outlives it and its
	// transactions must not carry the starting marker.
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	for _, d := range s.modules {
		tc, found, err := s.e.meta.ReadTimerContext(ctx, d.ID())
		if err != nil {
			logger.Warn("failed to load timer context", "module", d.ID(), "error", err)
			continue
		}
		if found {
			s.contexts[d.ID()] = tc
		}
	}

	logger.Info("timer scheduler started", "modules", len(s.modules))
	go s.loop(ctx)
}

func (s *scheduler) stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
		s.e.logger.Info("timer scheduler stopped")
	})
}

func (s *scheduler) loop(ctx context.Context) {
	defer close(s.done)

	delay := s.e.timing.NextDelay(NeverRun, s.load.rate())
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		took := s.runNext(ctx)
		timer.Reset(s.e.timing.NextDelay(took, s.load.rate()))
	}
}

// runNext runs the next eligible module and returns how long it took, or
// UnknownDuration if nothing ran or the task failed.
func (s *scheduler) runNext(ctx context.Context) time.Duration {
	now := s.e.clock.Now()
	for range s.modules {
		d := s.modules[s.next]
		s.next = (s.next + 1) % len(s.modules)

		if !s.eligible(d, now) {
			continue
		}
		return s.run(ctx, d, now)
	}
	return UnknownDuration
}

func (s *scheduler) eligible(d dispatchEntry, now time.Time) bool {
	tc := s.contexts[d.ID()]
	if !tc.EarliestNextCall.IsZero() && now.Before(tc.EarliestNextCall) {
		return false
	}
	settings := d.Module.(module.TimerDriven).TimerSettings()
	if last, ok := s.lastRun[d.ID()]; ok && settings.MinInterval > 0 && now.Sub(last) < settings.MinInterval {
		return false
	}
	return true
}

func (s *scheduler) run(ctx context.Context, d dispatchEntry, now time.Time) time.Duration {
	id := d.ID()
	began := time.Now()
	s.lastRun[id] = now

	next, err := d.Module.(module.TimerDriven).DoSomeWork(ctx, s.e.db, s.contexts[id])
	s.e.observer.TimerRun(id, err)
	if err != nil {
		if module.IsDrift(err) {
			s.e.recordDrift(ctx, id, "timer", err)
		} else if ctx.Err() == nil {
			s.e.logger.Warn("timer-driven task failed", "module", id, "error", err)
		}
		return UnknownDuration
	}

	s.contexts[id] = next
	if err := s.e.meta.PersistTimerContext(ctx, id, next, now); err != nil {
		s.e.logger.Warn("failed to persist timer context", "module", id, "error", err)
	}
	return time.Since(began)
}

// loadMonitor turns the engine's commit counter into a rate.
type loadMonitor struct {
	counter *atomic.Uint64
	last    uint64
	at      time.Time
}

func (m *loadMonitor) rate() float64 {
	now := time.Now()
	count := m.counter.Load()
	defer func() { m.last, m.at = count, now }()

	if m.at.IsZero() {
		return 0
	}
	elapsed := now.Sub(m.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(count-m.last) / elapsed
}
