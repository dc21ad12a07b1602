// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config models the server-delivered recording configuration and
// resolves it against client-supplied settings.
package config

import (
	"strconv"
	"time"

	"github.com/ManuGH/replaybuf/internal/flagstore"
	"github.com/rs/zerolog"
)

// DecideResponse is the subset of the remote decide payload the capture
// engine consumes. Absence of the sessionRecording block means recording is
// disabled.
type DecideResponse struct {
	SessionRecording Opt[SessionRecording] `json:"sessionRecording"`
}

// SessionRecording carries the per-project recording parameters. Every field
// is tri-state; see Opt.
type SessionRecording struct {
	Endpoint                    Opt[string] `json:"endpoint"`
	SampleRate                  Opt[string] `json:"sampleRate"`
	LinkedFlag                  Opt[string] `json:"linkedFlag"`
	MinimumDurationMilliseconds Opt[int64]  `json:"minimumDurationMilliseconds"`
	RecordCanvas                Opt[bool]   `json:"recordCanvas"`
	CanvasFps                   Opt[int]    `json:"canvasFps"`
	CanvasQuality               Opt[string] `json:"canvasQuality"`
	ConsoleLogRecordingEnabled  Opt[bool]   `json:"consoleLogRecordingEnabled"`
	RecorderVersion             Opt[string] `json:"recorderVersion"`
}

// ParseSampleRate converts the wire sample rate (a decimal string) into a
// rate in [0,1]. A missing, malformed, or out-of-range value means no
// sampling constraint; configuration errors fail open here.
func ParseSampleRate(raw Opt[string], logger zerolog.Logger) *float64 {
	s, ok := raw.Get()
	if !ok {
		return nil
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil || rate < 0 || rate > 1 {
		logger.Warn().
			Str("event", "config.sample_rate_invalid").
			Str("raw", s).
			Msg("ignoring malformed sample rate")
		return nil
	}
	return &rate
}

// Flags reduces the decide response to the persisted flag document.
func (r DecideResponse) Flags(logger zerolog.Logger) flagstore.Flags {
	rec, ok := r.SessionRecording.Get()
	if !ok {
		// No sessionRecording block: recording is off.
		return flagstore.Flags{Enabled: false, UpdatedAt: time.Now()}
	}

	f := flagstore.Flags{
		Enabled:         true,
		ConsoleLog:      rec.ConsoleLogRecordingEnabled.Or(false),
		RecorderVersion: rec.RecorderVersion.Or(""),
		Endpoint:        rec.Endpoint.Or(""),
		SampleRate:      ParseSampleRate(rec.SampleRate, logger),
		LinkedFlag:      rec.LinkedFlag.Or(""),
		UpdatedAt:       time.Now(),
	}

	if ms, ok := rec.MinimumDurationMilliseconds.Get(); ok {
		f.MinimumDurationMs = &ms
	}

	// Canvas capture: an explicit null on recordCanvas disables the whole
	// canvas block, distinct from the field being absent.
	if record, ok := rec.RecordCanvas.Get(); ok && record {
		quality := 0.4
		if q, ok := rec.CanvasQuality.Get(); ok {
			if parsed, err := strconv.ParseFloat(q, 64); err == nil && parsed > 0 && parsed <= 1 {
				quality = parsed
			}
		}
		f.Canvas = &flagstore.CanvasFlags{
			Record:  true,
			FPS:     rec.CanvasFps.Or(4),
			Quality: quality,
		}
	}

	return f
}
