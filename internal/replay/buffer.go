// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

// buffer holds the ordered pending events for one session/window segment plus
// their accumulated serialized size. It is owned exclusively by Lifecycle and
// replaced wholesale on every flush; it is never partially drained.
type buffer struct {
	events    []Event
	sessionID string
	windowID  string
	size      int
	lastTS    int64
}

func newBuffer() *buffer {
	return &buffer{}
}

func (b *buffer) empty() bool {
	return len(b.events) == 0
}

// append adds an event, adopting the given identifiers when the buffer was
// empty. All later appends must carry the same session id; Lifecycle flushes
// before that invariant could break.
func (b *buffer) append(ev Event, size int, sessionID, windowID string) {
	if b.empty() {
		b.sessionID = sessionID
		b.windowID = windowID
	}
	b.events = append(b.events, ev)
	b.size += size
	b.lastTS = ev.Timestamp
}
