// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package flagstore persists the server-delivered recording decision between
// sessions so the engine can start with the last known configuration before
// the next decide response arrives.
package flagstore

import "time"

// CanvasFlags holds the server-resolved canvas capture parameters.
// A nil *CanvasFlags on Flags means canvas capture is not configured at all;
// the server distinguishes "absent" from "explicitly disabled".
type CanvasFlags struct {
	Record  bool    `json:"record"`
	FPS     int     `json:"fps"`
	Quality float64 `json:"quality"`
}

// Flags is the persisted snapshot of the last decide response, reduced to the
// fields the capture engine consumes.
type Flags struct {
	Enabled         bool     `json:"session_recording_enabled"`
	ConsoleLog      bool     `json:"console_log_capture"`
	RecorderVersion string   `json:"recorder_version,omitempty"`
	Endpoint        string   `json:"endpoint,omitempty"`
	SampleRate      *float64 `json:"sample_rate,omitempty"`
	LinkedFlag      string   `json:"linked_flag,omitempty"`

	// MinimumDurationMs below which a session's first flush is suppressed.
	// nil means no minimum is enforced.
	MinimumDurationMs *int64 `json:"minimum_duration_ms,omitempty"`

	Canvas *CanvasFlags `json:"canvas,omitempty"`

	// UpdatedAt records when the flags were last persisted.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// MinimumDuration returns the configured minimum session duration, if any.
func (f Flags) MinimumDuration() (time.Duration, bool) {
	if f.MinimumDurationMs == nil {
		return 0, false
	}
	return time.Duration(*f.MinimumDurationMs) * time.Millisecond, true
}

// Store persists and restores Flags. Implementations must tolerate a missing
// document: Load on an empty store returns zero Flags and no error.
type Store interface {
	Load() (Flags, error)
	Save(Flags) error
}
