// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

// customQueueCapacity bounds the side-channel annotation backlog held while
// the recorder is not attached. Oldest entries are evicted first.
const customQueueCapacity = 10

type queuedCustom struct {
	Name    string
	Payload any
}

// customQueue is a bounded FIFO with ring discipline: pushing onto a full
// queue drops the oldest entry.
type customQueue struct {
	entries []queuedCustom
}

// push appends an entry and reports whether an older one was evicted.
func (q *customQueue) push(name string, payload any) bool {
	evicted := false
	if len(q.entries) >= customQueueCapacity {
		q.entries = q.entries[1:]
		evicted = true
	}
	q.entries = append(q.entries, queuedCustom{Name: name, Payload: payload})
	return evicted
}

// drain returns all entries in original order and empties the queue.
func (q *customQueue) drain() []queuedCustom {
	out := q.entries
	q.entries = nil
	return out
}

func (q *customQueue) len() int {
	return len(q.entries)
}
