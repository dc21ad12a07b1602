// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport delivers flushed replay segments to the capture endpoint.
// It is the engine's Sink: enqueue is non-blocking, a single worker posts
// segments in order, and undeliverable segments park in a local spool until
// the endpoint recovers.
package transport

import (
	"github.com/ManuGH/replaybuf/internal/replay"
)

// snapshotEvent is the capture wire event name for replay segments.
const snapshotEvent = "$snapshot"

type snapshotProperties struct {
	SessionID     string         `json:"$session_id"`
	WindowID      string         `json:"$window_id"`
	SnapshotData  []replay.Event `json:"$snapshot_data"`
	SnapshotBytes int            `json:"$snapshot_bytes"`
}

type captureEnvelope struct {
	Event      string             `json:"event"`
	Properties snapshotProperties `json:"properties"`
}

func envelope(p replay.FlushPayload) captureEnvelope {
	return captureEnvelope{
		Event: snapshotEvent,
		Properties: snapshotProperties{
			SessionID:     p.SessionID,
			WindowID:      p.WindowID,
			SnapshotData:  p.Events,
			SnapshotBytes: p.Bytes,
		},
	}
}
