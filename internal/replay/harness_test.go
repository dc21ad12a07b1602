// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/replaybuf/internal/config"
	"github.com/ManuGH/replaybuf/internal/flagstore"
	"github.com/ManuGH/replaybuf/internal/identity"
	"github.com/ManuGH/replaybuf/internal/sampling"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock. Timer callbacks run synchronously
// inside Advance, on the caller's goroutine, ordered by due time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and fires every due timer, earliest first. Timers
// armed by a firing callback are picked up in the same pass when already due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next != nil {
			next.fired = true
		}
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.fn()
	}
}

// fakeRecorder emits synchronously on the attached callback, including from
// TakeFullSnapshot and AddCustomEvent, exercising the engine's re-entrancy
// handling. With silent set it swallows snapshot requests.
type fakeRecorder struct {
	mu        sync.Mutex
	clock     *fakeClock
	emit      func(Event)
	opts      RecorderOptions
	attaches  int
	detaches  int
	snapshots int
	customs   []string
	silent    bool
}

func (r *fakeRecorder) Attach(opts RecorderOptions, emit func(Event)) (func(), error) {
	r.mu.Lock()
	r.opts = opts
	r.emit = emit
	r.attaches++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.emit = nil
		r.detaches++
		r.mu.Unlock()
	}, nil
}

func (r *fakeRecorder) TakeFullSnapshot() {
	r.mu.Lock()
	r.snapshots++
	emit := r.emit
	silent := r.silent
	r.mu.Unlock()
	if silent || emit == nil {
		return
	}
	emit(Event{Type: EventFullSnapshot, Timestamp: r.clock.Now().UnixMilli(), Data: json.RawMessage(`{"node":1}`)})
}

func (r *fakeRecorder) AddCustomEvent(name string, payload any) {
	r.mu.Lock()
	r.customs = append(r.customs, name)
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return
	}
	ev, err := NewCustom(name, payload, r.clock.Now().UnixMilli())
	if err != nil {
		return
	}
	emit(ev)
}

func (r *fakeRecorder) customTags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.customs...)
}

func (r *fakeRecorder) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots
}

type fakeSink struct {
	mu    sync.Mutex
	sends []FlushPayload
}

func (s *fakeSink) Send(p FlushPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, p)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *fakeSink) last() FlushPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[len(s.sends)-1]
}

func (s *fakeSink) all() []FlushPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FlushPayload(nil), s.sends...)
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = nil
}

// stubIdentity returns a fixed identity until the test swaps it. Rotation
// notifications are delivered synchronously from the test goroutine.
type stubIdentity struct {
	mu          sync.Mutex
	id          identity.Identity
	subscribers []func(identity.Identity)
}

func newStubIdentity(clock *fakeClock) *stubIdentity {
	return &stubIdentity{id: identity.Identity{
		SessionID:    "session-1",
		WindowID:     "window-1",
		SessionStart: clock.Now(),
	}}
}

func (s *stubIdentity) Current(readOnly bool) identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *stubIdentity) OnRotate(fn func(identity.Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *stubIdentity) set(id identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *stubIdentity) rotate(id identity.Identity) {
	s.mu.Lock()
	s.id = id
	subs := append(([]func(identity.Identity))(nil), s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(id)
	}
}

type harness struct {
	clock *fakeClock
	rec   *fakeRecorder
	sink  *fakeSink
	ident *stubIdentity
	store *flagstore.MemoryStore
	eng   *Lifecycle
}

// enabledFlags is the minimal server decision that lets recording transmit.
func enabledFlags() flagstore.Flags {
	return flagstore.Flags{Enabled: true, Endpoint: "https://capture.example.com/s/"}
}

func newHarness(t *testing.T, opts Options, flags flagstore.Flags, mutate func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		clock: newFakeClock(),
		rec:   &fakeRecorder{},
		sink:  &fakeSink{},
		store: flagstore.NewMemoryStore(),
	}
	h.rec.clock = h.clock
	h.ident = newStubIdentity(h.clock)
	require.NoError(t, h.store.Save(flags))

	opts.Clock = h.clock
	deps := Deps{
		Recorder: h.rec,
		Identity: h.ident,
		Sink:     h.sink,
		Flags:    h.store,
		Resolver: config.Resolver{Store: h.store},
		Sampler:  sampling.NewWithSource(rand.NewSource(1)),
	}
	if mutate != nil {
		mutate(&deps)
	}

	eng, err := New(opts, deps)
	require.NoError(t, err)
	h.eng = eng
	return h
}

// start runs StartIfEnabled and, when transmission is allowed, drains the
// startup $session_options annotation so tests begin with an empty buffer.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.eng.StartIfEnabled()
	if st := h.eng.State(); st == StateActive || st == StateSampled {
		h.eng.Flush()
		h.sink.reset()
	}
}

func (h *harness) nowMs() int64 {
	return h.clock.Now().UnixMilli()
}

func incEvent(ts int64, source int) Event {
	return Event{
		Type:      EventIncremental,
		Timestamp: ts,
		Data:      json.RawMessage(fmt.Sprintf(`{"source":%d}`, source)),
	}
}

func activityAt(ts int64) Event { return incEvent(ts, SourceMouseMove) }
func passiveAt(ts int64) Event  { return incEvent(ts, SourceMutation) }

func eventTags(t *testing.T, events []Event) []string {
	t.Helper()
	tags := make([]string, 0, len(events))
	for _, ev := range events {
		if tag := customTag(ev); tag != "" {
			tags = append(tags, tag)
			continue
		}
		tags = append(tags, fmt.Sprintf("type:%d", ev.Type))
	}
	return tags
}
