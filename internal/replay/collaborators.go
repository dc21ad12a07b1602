// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"fmt"

	"github.com/ManuGH/replaybuf/internal/identity"
)

// RecorderOptions is the configuration handed to the external recorder at
// attach time. The engine forwards these without interpreting them; they are
// also echoed into the replay stream as a $session_options annotation.
type RecorderOptions struct {
	MaskAllInputs  bool    `json:"maskAllInputs"`
	BlockSelector  string  `json:"blockSelector,omitempty"`
	IgnoreSelector string  `json:"ignoreSelector,omitempty"`
	ConsoleLog     bool    `json:"consoleLog"`
	RecordCanvas   bool    `json:"recordCanvas"`
	CanvasFPS      int     `json:"canvasFps,omitempty"`
	CanvasQuality  float64 `json:"canvasQuality,omitempty"`
}

// Recorder is the external DOM recording engine.
//
// Attach registers emit as THE event callback, replacing any previous one
// (handlers must never stack), and returns a detach function that fully
// silences future emissions. Attach must be idempotent.
//
// TakeFullSnapshot and AddCustomEvent deliver their resulting events through
// the registered emit callback; with a conforming recorder that delivery is
// synchronous, but the engine tolerates late or missing delivery.
type Recorder interface {
	Attach(opts RecorderOptions, emit func(Event)) (detach func(), err error)
	TakeFullSnapshot()
	AddCustomEvent(name string, payload any)
}

// IdentityProvider resolves the current session/window identity. A non-
// readOnly lookup counts as user activity and may rotate an expired session.
// Rotation callbacks are delivered asynchronously.
type IdentityProvider interface {
	Current(readOnly bool) identity.Identity
	OnRotate(func(identity.Identity))
}

// FlushPayload is one flush unit handed to the capture sink: the buffered
// segment with the identifiers it was recorded under.
type FlushPayload struct {
	SessionID string
	WindowID  string
	Events    []Event
	Bytes     int
}

// Sink receives flush payloads. Send must not block and must not call back
// into the engine; transports queue internally.
type Sink interface {
	Send(FlushPayload)
}

// BundleLoader fetches the recorder bundle for a required version. Load is
// asynchronous; onComplete runs when the bundle is available (or failed).
type BundleLoader interface {
	Load(url string, onComplete func(error))
}

// BundleURL maps a resolved recorder version to its bundle location. Pure.
func BundleURL(base, version string) string {
	if version == "" || version == "v1" {
		return base + "/static/recorder.js"
	}
	return fmt.Sprintf("%s/static/recorder-%s.js", base, version)
}
