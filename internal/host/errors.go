package host

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is returned by writes inside a View transaction.
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrTxDone is returned when a transaction is used after it finished.
	ErrTxDone = errors.New("transaction has already finished")
)

// RollbackError reports a transaction rolled back by a commit handler.
type RollbackError struct {
	TxID string
	Err  error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction %s rolled back: %v", e.TxID, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IsRollback reports whether err is, or wraps, a RollbackError.
func IsRollback(err error) bool {
	var re *RollbackError
	return errors.As(err, &re)
}
