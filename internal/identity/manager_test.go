// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time          { return f.t }
func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestManager(maxIdle, maxDur time.Duration) (*Manager, *fakeNow) {
	fn := &fakeNow{t: time.Unix(1700000000, 0)}
	m := NewManager(Options{MaxIdle: maxIdle, MaxDuration: maxDur, Now: fn.now})
	return m, fn
}

func TestCurrentStableWhileActive(t *testing.T) {
	m, fn := newTestManager(30*time.Minute, 24*time.Hour)

	first := m.Current(false)
	fn.advance(10 * time.Minute)
	second := m.Current(false)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.WindowID, second.WindowID)
	assert.Equal(t, first.SessionStart, second.SessionStart)
}

func TestRotateAfterMaxIdle(t *testing.T) {
	m, fn := newTestManager(30*time.Minute, 24*time.Hour)

	rotations := make(chan Identity, 1)
	m.OnRotate(func(id Identity) { rotations <- id })

	first := m.Current(false)
	fn.advance(31 * time.Minute)
	second := m.Current(false)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.WindowID, second.WindowID, "window id survives rotation")

	select {
	case rotated := <-rotations:
		assert.Equal(t, second.SessionID, rotated.SessionID)
	case <-time.After(time.Second):
		t.Fatal("rotation callback never delivered")
	}
}

func TestReadOnlyNeverRotates(t *testing.T) {
	m, fn := newTestManager(30*time.Minute, 24*time.Hour)

	first := m.Current(false)
	fn.advance(2 * time.Hour)
	second := m.Current(true)

	assert.Equal(t, first.SessionID, second.SessionID, "readOnly lookup must not rotate")

	// The next writing lookup does rotate.
	third := m.Current(false)
	assert.NotEqual(t, first.SessionID, third.SessionID)
}

func TestRotateAfterMaxDuration(t *testing.T) {
	m, fn := newTestManager(30*time.Minute, time.Hour)

	first := m.Current(false)
	for i := 0; i < 7; i++ {
		fn.advance(10 * time.Minute) // stay under max idle
		m.Current(false)
	}
	last := m.Current(false)

	assert.NotEqual(t, first.SessionID, last.SessionID, "session outlived max duration")
}

func TestForcedRotate(t *testing.T) {
	m, _ := newTestManager(0, 0)

	first := m.Current(true)
	forced := m.Rotate()
	assert.NotEqual(t, first.SessionID, forced.SessionID)
	assert.Equal(t, forced.SessionID, m.Current(true).SessionID)
}
