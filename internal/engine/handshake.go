package engine

import (
	"context"
	"time"

	"github.com/roach88/txmod/internal/txdata"
)

// startingKey marks a context as belonging to the goroutine executing
// Start. The value is the engine, so markers of one runtime never leak into
// another.
type startingKey struct{}

func withStarting(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, startingKey{}, e)
}

func (e *Engine) isStarting(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(startingKey{}).(*Engine)
	return owner == e
}

// EnsureReady gates a transaction on the runtime state.
//
//   - STARTED: ready
//   - STARTING, called from start itself: not ready, no wait
//   - STARTING, read-only transaction: not ready, no wait
//   - STARTING otherwise: polls until STARTED; gives up with a StateError
//     after the configured number of attempts
//   - any other state: StateError
//
// A caller told "not ready" without an error commits without module dispatch.
func (e *Engine) EnsureReady(ctx context.Context, data txdata.Data) (bool, error) {
	switch s := e.State(); s {
	case StateStarted:
		return true, nil
	case StateStarting:
	default:
		return false, illegalState("ensure ready", s)
	}

	if e.isStarting(ctx) {
		e.observer.HandshakeWaited(HandshakeBypassStarting)
		return false, nil
	}
	if !data.MutationsOccurred() {
		e.observer.HandshakeWaited(HandshakeBypassReadOnly)
		return false, nil
	}

	return e.awaitStarted(ctx)
}

func (e *Engine) awaitStarted(ctx context.Context) (bool, error) {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	for attempt := 0; attempt < e.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			e.observer.HandshakeWaited(HandshakeFailed)
			return false, ctx.Err()
		case <-timer.C:
		}

		switch s := e.State(); s {
		case StateStarted:
			e.observer.HandshakeWaited(HandshakeWaited)
			return true, nil
		case StateStarting:
			timer.Reset(e.pollInterval)
		default:
			e.observer.HandshakeWaited(HandshakeFailed)
			return false, illegalState("ensure ready", s)
		}
	}

	e.observer.HandshakeWaited(HandshakeTimeout)
	e.logger.Error("runtime failed to start in time",
		"attempts", e.pollAttempts,
		"interval", e.pollInterval,
	)
	return false, &StateError{
		Code:    ErrCodeStartTimeout,
		Op:      "ensure ready",
		State:   e.State(),
		Message: "runtime failed to start in time",
	}
}
