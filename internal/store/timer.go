package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/txmod/internal/value"
)

// TimerContext is the progress a timer-driven module hands from one run to
// the next.
type TimerContext struct {
	// EarliestNextCall is the first time the module wants to run again.
	// Zero means as soon as possible.
	EarliestNextCall time.Time

	// State is opaque to the runtime.
	State value.Object
}

// ReadTimerContext returns the persisted context of a module.
// Returns found=false if none was persisted.
func (s *Store) ReadTimerContext(ctx context.Context, moduleID string) (TimerContext, bool, error) {
	var (
		next  int64
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT earliest_next_call, state FROM timer_contexts WHERE module_id = ?
	`, moduleID).Scan(&next, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerContext{}, false, nil
	}
	if err != nil {
		return TimerContext{}, false, fmt.Errorf("read timer context %q: %w", moduleID, err)
	}

	obj, err := unmarshalProps(state)
	if err != nil {
		return TimerContext{}, false, fmt.Errorf("read timer context %q: %w", moduleID, err)
	}
	return TimerContext{EarliestNextCall: fromMillis(next), State: obj}, true, nil
}

// PersistTimerContext creates or replaces a module's timer context.
func (s *Store) PersistTimerContext(ctx context.Context, moduleID string, tc TimerContext, now time.Time) error {
	state, err := marshalProps(tc.State)
	if err != nil {
		return fmt.Errorf("persist timer context %q: %w", moduleID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timer_contexts (module_id, earliest_next_call, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET
			earliest_next_call = excluded.earliest_next_call,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, moduleID, toMillis(tc.EarliestNextCall), state, toMillis(now))
	if err != nil {
		return fmt.Errorf("persist timer context %q: %w", moduleID, err)
	}
	return nil
}
