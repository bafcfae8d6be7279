package engine

import "time"

// Clock supplies wall time for metadata timestamps, InitializeUntil checks
// and timer scheduling. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }
