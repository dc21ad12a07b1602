// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package replay implements the event-buffering and session-lifecycle engine
// that sits between the external DOM recorder and the capture endpoint.
package replay

import "encoding/json"

// EventType identifies the kind of recording event. The numeric values match
// the recorder's wire taxonomy so buffered events replay without translation.
type EventType int

const (
	EventDOMContentLoaded EventType = 0
	EventLoad             EventType = 1
	EventFullSnapshot     EventType = 2
	EventIncremental      EventType = 3
	EventMeta             EventType = 4
	EventCustom           EventType = 5
)

// Incremental snapshot sources, as emitted by the recorder. Only a subset
// counts as user activity for idle detection.
const (
	SourceMutation         = 0
	SourceMouseMove        = 1
	SourceMouseInteraction = 2
	SourceScroll           = 3
	SourceViewportResize   = 4
	SourceInput            = 5
	SourceTouchMove        = 6
	SourceMediaInteraction = 7
	SourceStyleSheetRule   = 8
	SourceCanvasMutation   = 9
	SourceFont             = 10
	SourceLog              = 11
	SourceDrag             = 12
)

// Custom event tags the engine itself emits into the replay stream.
const (
	TagSessionIdle    = "sessionIdle"
	TagSessionActive  = "sessionNoLongerIdle"
	TagSessionOptions = "$session_options"
)

// Event is one recording event as produced by the external recorder. It is
// immutable once emitted; Data stays opaque to the engine except for the
// activity discriminator and custom-event tags.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// Size returns the serialized size of the event in bytes, which is what the
// buffer's byte accounting and the flush payload report.
func (e Event) Size() int {
	data, err := json.Marshal(e)
	if err != nil {
		// Unmarshalable Data cannot come from a conforming recorder; account
		// for the raw bytes plus the envelope rather than zero.
		return len(e.Data) + 32
	}
	return len(data)
}

// NewCustom builds a Custom event carrying a tagged payload, mirroring the
// recorder's own custom-event encoding.
func NewCustom(tag string, payload any, timestamp int64) (Event, error) {
	data, err := json.Marshal(struct {
		Tag     string `json:"tag"`
		Payload any    `json:"payload,omitempty"`
	}{Tag: tag, Payload: payload})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventCustom, Timestamp: timestamp, Data: data}, nil
}

// customTag extracts the tag of a Custom event, or "" for anything else.
func customTag(e Event) string {
	if e.Type != EventCustom || len(e.Data) == 0 {
		return ""
	}
	var d struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return ""
	}
	return d.Tag
}

// isIdleMarker reports whether the event is one of the engine's own idle
// annotations; those bypass idle classification so the transition that
// produced them is itself visible in the replay.
func isIdleMarker(e Event) bool {
	tag := customTag(e)
	return tag == TagSessionIdle || tag == TagSessionActive
}

// ActivityFunc classifies an event as user activity. The default follows the
// recorder's taxonomy: incremental snapshots from input-driven sources.
type ActivityFunc func(Event) bool

// defaultActiveSources are the incremental sources driven by user input.
var defaultActiveSources = map[int]struct{}{
	SourceMouseMove:        {},
	SourceMouseInteraction: {},
	SourceScroll:           {},
	SourceViewportResize:   {},
	SourceInput:            {},
	SourceTouchMove:        {},
	SourceMediaInteraction: {},
	SourceDrag:             {},
}

// DefaultIsActivity is the stock activity discriminator.
func DefaultIsActivity(e Event) bool {
	if e.Type != EventIncremental || len(e.Data) == 0 {
		return false
	}
	var d struct {
		Source *int `json:"source"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil || d.Source == nil {
		return false
	}
	_, ok := defaultActiveSources[*d.Source]
	return ok
}
