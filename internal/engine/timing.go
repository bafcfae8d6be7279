package engine

import (
	"sync"
	"time"
)

// Sentinel task durations passed to TimingStrategy.NextDelay.
const (
	// NeverRun means no task has run yet.
	NeverRun time.Duration = -2
	// UnknownDuration means the last task failed or did nothing measurable.
	UnknownDuration time.Duration = -1
)

// TimingStrategy decides the pause between two timer-driven tasks.
type TimingStrategy interface {
	// NextDelay returns the delay before the next task. lastTask is the
	// duration of the previous task or one of the sentinels; load is the
	// recent rate of committed transactions per second.
	NextDelay(lastTask time.Duration, load float64) time.Duration
}

// FixedDelay always waits the same time.
type FixedDelay time.Duration

func (d FixedDelay) NextDelay(time.Duration, float64) time.Duration { return time.Duration(d) }

// AdaptiveSettings configures AdaptiveTiming.
type AdaptiveSettings struct {
	// Delta is how much the delay moves after each task.
	Delta time.Duration
	// DefaultDelay is used until a task has completed.
	DefaultDelay time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
	// BusyThreshold is the transaction rate above which the store is busy.
	BusyThreshold float64
}

// DefaultAdaptiveSettings returns the stock adaptive configuration.
func DefaultAdaptiveSettings() AdaptiveSettings {
	return AdaptiveSettings{
		Delta:         100 * time.Millisecond,
		DefaultDelay:  2 * time.Second,
		MinDelay:      5 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BusyThreshold: 100,
	}
}

// AdaptiveTiming backs off while the store is busy and speeds up while it
// is idle, moving the delay by a constant delta within [MinDelay, MaxDelay].
type AdaptiveTiming struct {
	settings AdaptiveSettings

	mu       sync.Mutex
	previous time.Duration
}

// NewAdaptiveTiming creates an adaptive strategy.
func NewAdaptiveTiming(s AdaptiveSettings) *AdaptiveTiming {
	return &AdaptiveTiming{settings: s, previous: UnknownDuration}
}

// NextDelay implements TimingStrategy.
func (a *AdaptiveTiming) NextDelay(lastTask time.Duration, load float64) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.settings
	var next time.Duration
	switch {
	case lastTask < 0 || a.previous < 0:
		next = s.DefaultDelay
	case load > s.BusyThreshold:
		next = a.previous + s.Delta
	default:
		next = a.previous - s.Delta
	}

	next = max(s.MinDelay, min(s.MaxDelay, next))
	a.previous = next
	return next
}
