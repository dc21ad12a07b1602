// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import "time"

// DefaultIdleThreshold is how long without user activity a session is
// considered idle.
const DefaultIdleThreshold = 5 * time.Minute

// idleDetector tracks the last user activity and classifies each incoming
// event. There is no background timer: idleness is evaluated lazily against
// event timestamps as events are processed.
type idleDetector struct {
	threshold    time.Duration
	idle         bool
	lastActivity int64 // unix milliseconds
}

// idleResult describes what the detector decided for one event.
type idleResult struct {
	// Drop means the event must not be buffered (it entered or sustained the
	// idle state).
	Drop bool
	// EnteredIdle is set on the idle transition; the caller emits exactly one
	// annotation.
	EnteredIdle bool
	// ExitedIdle is set when an activity event ends an idle period; the
	// caller re-anchors with a full snapshot.
	ExitedIdle bool
	// InactiveFor is the elapsed inactivity at the idle transition.
	InactiveFor time.Duration
}

// reset re-arms the detector as active, anchored at now. Called when
// recording (re)starts; idle state otherwise survives buffer flushes.
func (d *idleDetector) reset(nowMs int64) {
	d.idle = false
	d.lastActivity = nowMs
}

// observe feeds one event through the detector. Activity events always
// refresh lastActivity and end an idle period; non-activity events are
// dropped while idle and trigger the idle transition once the threshold
// elapses. The transition does not refresh lastActivity, so InactiveFor keeps
// growing from the true last activity.
func (d *idleDetector) observe(tsMs int64, activity bool) idleResult {
	if activity {
		res := idleResult{ExitedIdle: d.idle}
		d.idle = false
		d.lastActivity = tsMs
		return res
	}

	if d.idle {
		return idleResult{Drop: true}
	}

	inactive := time.Duration(tsMs-d.lastActivity) * time.Millisecond
	if inactive >= d.threshold {
		d.idle = true
		return idleResult{Drop: true, EnteredIdle: true, InactiveFor: inactive}
	}
	return idleResult{}
}
