package module

import (
	"context"
	"time"

	"github.com/roach88/txmod/internal/host"
	"github.com/roach88/txmod/internal/store"
)

// TimerContext is the progress a timer-driven module carries between runs.
type TimerContext = store.TimerContext

// TimerSettings tunes how often a timer-driven module runs.
type TimerSettings struct {
	// MinInterval is the minimum time between two runs of the module.
	// Zero means every scheduler tick.
	MinInterval time.Duration
}

// TimerDriven is implemented by modules doing background work between
// transactions, one unit at a time.
type TimerDriven interface {
	TimerSettings() TimerSettings

	// DoSomeWork performs one unit of work. last is the context returned by
	// the previous run (zero on the first). Returning a context with a
	// future EarliestNextCall postpones the next run.
	DoSomeWork(ctx context.Context, db *host.DB, last TimerContext) (TimerContext, error)
}
