// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import "time"

// Clock abstracts time for the engine's two timers (flush debounce and
// full-snapshot interval) so tests can drive them deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call was
	// stopped before it ran.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock is the real-time clock used outside tests.
var SystemClock Clock = systemClock{}
