// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleDetectorTransitionAtThreshold(t *testing.T) {
	d := idleDetector{threshold: 5 * time.Minute}
	d.reset(0)

	// Just under the threshold: still active.
	res := d.observe((5 * time.Minute).Milliseconds()-1, false)
	assert.False(t, res.Drop)
	assert.False(t, res.EnteredIdle)

	// At the threshold: one transition, event dropped.
	res = d.observe((5 * time.Minute).Milliseconds(), false)
	assert.True(t, res.Drop)
	assert.True(t, res.EnteredIdle)
	assert.Equal(t, 5*time.Minute, res.InactiveFor)

	// Further passive events drop without a second transition.
	res = d.observe((6 * time.Minute).Milliseconds(), false)
	assert.True(t, res.Drop)
	assert.False(t, res.EnteredIdle)
}

func TestIdleDetectorActivityEndsIdle(t *testing.T) {
	d := idleDetector{threshold: time.Minute}
	d.reset(0)

	d.observe(time.Minute.Milliseconds(), false)
	res := d.observe((2 * time.Minute).Milliseconds(), true)
	assert.True(t, res.ExitedIdle)
	assert.False(t, res.Drop)

	// lastActivity moved to the exiting event.
	res = d.observe((2 * time.Minute).Milliseconds()+1, false)
	assert.False(t, res.Drop)
}

func TestIdleDetectorActivityRefreshesWhileActive(t *testing.T) {
	d := idleDetector{threshold: time.Minute}
	d.reset(0)

	res := d.observe(30_000, true)
	assert.False(t, res.ExitedIdle)

	// 59s after the refresh, not after reset.
	res = d.observe(30_000+59_000, false)
	assert.False(t, res.Drop)
}

func TestIdleDetectorTransitionDoesNotRefreshAnchor(t *testing.T) {
	d := idleDetector{threshold: time.Minute}
	d.reset(0)

	res := d.observe(time.Minute.Milliseconds(), false)
	assert.Equal(t, time.Minute, res.InactiveFor)

	// The anchor stayed at 0, so a hypothetical second transition would
	// report the full gap. Exit and re-enter to observe it.
	d.observe((3 * time.Minute).Milliseconds(), true)
	res = d.observe((5 * time.Minute).Milliseconds(), false)
	assert.True(t, res.EnteredIdle)
	assert.Equal(t, 2*time.Minute, res.InactiveFor)
}
