// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"sync"
	"time"
)

// DefaultSnapshotInterval bounds how long a buffer segment may go without a
// full snapshot even when nothing else triggers one.
const DefaultSnapshotInterval = 10 * time.Minute

// snapshotScheduler owns the periodic full-snapshot timer. Every observed
// full snapshot rearms it, so the interval measures time since the last
// snapshot from any origin, not a fixed cadence.
type snapshotScheduler struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	fire     func()
	timer    Timer
}

func newSnapshotScheduler(clock Clock, interval time.Duration, fire func()) *snapshotScheduler {
	return &snapshotScheduler{clock: clock, interval: interval, fire: fire}
}

// Rearm cancels any pending timer and starts the interval over.
func (s *snapshotScheduler) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.interval, s.fire)
}

// Stop cancels the timer; a stopped scheduler never fires until rearmed.
func (s *snapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
