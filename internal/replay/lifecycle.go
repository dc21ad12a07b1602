// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/replaybuf/internal/config"
	"github.com/ManuGH/replaybuf/internal/flagstore"
	"github.com/ManuGH/replaybuf/internal/identity"
	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/ManuGH/replaybuf/internal/metrics"
	"github.com/ManuGH/replaybuf/internal/sampling"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of the capture engine.
type State string

const (
	// StateDisabled drops all incoming events. Initial and terminal.
	StateDisabled State = "disabled"
	// StateBuffering accumulates events locally but never transmits: the
	// decide response has not arrived yet, or a linked flag gates sending.
	StateBuffering State = "buffering"
	// StateActive buffers and transmits.
	StateActive State = "active"
	// StateSampled is active-with-sampling: reached only when the sampling
	// decision for the current session came back "in".
	StateSampled State = "sampled"
)

// Engine defaults; all overridable via Options.
const (
	DefaultMaxBufferBytes = 1024 * 1024
	DefaultFlushInterval  = 2 * time.Second
)

// Options tunes the engine. Zero values take the defaults above.
type Options struct {
	MaxBufferBytes   int
	FlushInterval    time.Duration
	IdleThreshold    time.Duration
	SnapshotInterval time.Duration

	// BundleBaseURL is the origin the recorder bundle is fetched from.
	BundleBaseURL string

	// IsActivity overrides the activity discriminator.
	IsActivity ActivityFunc

	Clock Clock
}

func (o Options) withDefaults() Options {
	if o.MaxBufferBytes <= 0 {
		o.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = DefaultSnapshotInterval
	}
	if o.IsActivity == nil {
		o.IsActivity = DefaultIsActivity
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	return o
}

// Deps are the engine's collaborators.
type Deps struct {
	Recorder Recorder
	Identity IdentityProvider
	Sink     Sink
	Flags    flagstore.Store
	Resolver config.Resolver
	Sampler  *sampling.Decider

	// Loader is optional; without one the recorder is assumed preloaded.
	Loader BundleLoader
}

func (d Deps) validate() error {
	if d.Recorder == nil {
		return fmt.Errorf("replay: Recorder is required")
	}
	if d.Identity == nil {
		return fmt.Errorf("replay: Identity is required")
	}
	if d.Sink == nil {
		return fmt.Errorf("replay: Sink is required")
	}
	if d.Flags == nil {
		return fmt.Errorf("replay: Flags store is required")
	}
	return nil
}

// Lifecycle is the orchestrator: it owns the buffer, reacts to identity and
// configuration changes, and decides when a flush happens. All entry points
// serialize on one mutex; calls into collaborators that can synchronously
// re-emit events are made with the lock released, and those re-entrant events
// land on a pending list drained by the dispatch already in progress.
type Lifecycle struct {
	mu   sync.Mutex
	opts Options
	deps Deps

	logger zerolog.Logger

	state         State
	started       bool
	attached      bool
	detach        func()
	loadedVersion string

	buf        *buffer
	queue      customQueue
	idle       idleDetector
	scheduler  *snapshotScheduler
	flushTimer Timer

	// Resolved from the last decide response.
	endpoint       string
	sampleRate     *float64
	linkedFlag     string
	linkedSeen     bool
	minDuration    time.Duration
	minDurationSet bool
	canvas         *flagstore.CanvasFlags

	lastSessionID string
	lastWindowID  string

	pending         []Event
	dispatching     bool
	snapshotPending bool
}

// New builds a stopped engine. Persisted flags are adopted immediately so a
// restarted process resumes with the last known decide outcome before the
// next one arrives.
func New(opts Options, deps Deps) (*Lifecycle, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Sampler == nil {
		deps.Sampler = sampling.New()
	}
	if deps.Resolver.Store == nil {
		deps.Resolver.Store = deps.Flags
	}

	l := &Lifecycle{
		opts:   opts.withDefaults(),
		deps:   deps,
		logger: rblog.WithComponent("lifecycle"),
		state:  StateDisabled,
		buf:    newBuffer(),
	}
	l.idle.threshold = l.opts.IdleThreshold
	l.scheduler = newSnapshotScheduler(l.opts.Clock, l.opts.SnapshotInterval, l.onSnapshotTimer)

	if f, err := deps.Flags.Load(); err == nil {
		l.adoptFlagsLocked(f)
	} else {
		l.logger.Warn().Err(err).Str("event", "config.load_failed").Msg("could not load persisted flags")
	}

	deps.Identity.OnRotate(l.onSessionRotated)
	return l, nil
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StartIfEnabled starts recording when the resolver allows it, loading the
// recorder bundle at the resolved version first if a loader is configured.
// When recording is disabled it behaves as Stop.
func (l *Lifecycle) StartIfEnabled() {
	if !l.deps.Resolver.Enabled() {
		l.Stop()
		return
	}

	version := l.deps.Resolver.RecorderVersion()

	l.mu.Lock()
	if l.started && l.loadedVersion == version {
		l.mu.Unlock()
		return
	}
	loader := l.deps.Loader
	needLoad := loader != nil && l.loadedVersion != version
	l.mu.Unlock()

	if needLoad {
		url := BundleURL(l.opts.BundleBaseURL, version)
		loader.Load(url, func(err error) {
			if err != nil {
				l.logger.Error().Err(err).
					Str("event", "recorder.load_failed").
					Str("url", url).
					Msg("recorder bundle load failed")
				return
			}
			l.attachRecorder(version)
		})
		return
	}
	l.attachRecorder(version)
}

func (l *Lifecycle) attachRecorder(version string) {
	opts := l.recorderOptions()

	detach, err := l.deps.Recorder.Attach(opts, l.OnRecorderEvent)
	if err != nil {
		l.logger.Error().Err(err).Str("event", "recorder.attach_failed").Msg("recorder attach failed")
		return
	}

	l.mu.Lock()
	l.detach = detach
	l.attached = true
	l.started = true
	l.loadedVersion = version
	l.idle.reset(l.opts.Clock.Now().UnixMilli())
	id := l.deps.Identity.Current(true)
	l.lastSessionID = id.SessionID
	l.lastWindowID = id.WindowID
	l.applyStateLocked(id.SessionID, "start")
	l.scheduler.Rearm()
	state := l.state
	l.mu.Unlock()

	l.logger.Info().
		Str("event", "lifecycle.start").
		Str("recorder_version", version).
		Str(rblog.FieldNewState, string(state)).
		Str(rblog.FieldSessionID, id.SessionID).
		Msg("recording started")

	// Echo the effective recorder configuration into the replay stream for
	// audit; replay tooling shows it alongside the captured session.
	l.AddCustomEvent(TagSessionOptions, opts)
}

func (l *Lifecycle) recorderOptions() RecorderOptions {
	client := l.deps.Resolver.Client
	opts := RecorderOptions{
		MaskAllInputs:  client.MaskAllInputs,
		BlockSelector:  client.BlockSelector,
		IgnoreSelector: client.IgnoreSelector,
		ConsoleLog:     l.deps.Resolver.ConsoleLogEnabled(),
	}

	l.mu.Lock()
	if l.canvas != nil && l.canvas.Record {
		opts.RecordCanvas = true
		opts.CanvasFPS = l.canvas.FPS
		opts.CanvasQuality = l.canvas.Quality
	}
	l.mu.Unlock()
	return opts
}

// Stop detaches from the recorder, discards the buffer, cancels both timers
// and parks the engine in StateDisabled. Idempotent.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	detach := l.detach
	l.detach = nil
	wasStarted := l.started
	l.started = false
	l.attached = false
	l.pending = nil
	l.snapshotPending = false
	if l.flushTimer != nil {
		l.flushTimer.Stop()
		l.flushTimer = nil
	}
	l.scheduler.Stop()
	if !l.buf.empty() {
		l.buf = newBuffer()
		metrics.BufferBytes.Set(0)
	}
	l.state = StateDisabled
	l.mu.Unlock()

	if detach != nil {
		detach()
	}
	if wasStarted {
		l.logger.Info().Str("event", "lifecycle.stop").Msg("recording stopped")
	}
}

// OnRecorderEvent is the emit callback registered with the recorder. Events
// arriving while a dispatch is in progress (the recorder re-emitting during a
// snapshot or custom-event call) are queued and drained by that dispatch.
func (l *Lifecycle) OnRecorderEvent(ev Event) {
	l.mu.Lock()
	if l.snapshotPending && ev.Type == EventFullSnapshot {
		l.snapshotPending = false
	}
	l.pending = append(l.pending, ev)
	if l.dispatching {
		l.mu.Unlock()
		return
	}

	l.dispatching = true
	for len(l.pending) > 0 {
		l.forwardQueuedLocked()
		next := l.pending[0]
		l.pending = l.pending[1:]
		l.dispatchLocked(next)
	}
	l.dispatching = false
	l.mu.Unlock()
}

// dispatchLocked runs the ordered per-event pipeline. It may release and
// reacquire the lock around recorder calls; any event it re-queues is
// processed by the surrounding drain loop.
func (l *Lifecycle) dispatchLocked(ev Event) {
	if l.state == StateDisabled {
		metrics.IncDrop("disabled")
		return
	}

	act := l.opts.IsActivity(ev)
	id := l.deps.Identity.Current(!act)

	// An identity change invalidates the visual anchor: ask the recorder for
	// a full snapshot so the next segment starts complete. The snapshot is
	// queued ahead of this event. Skipped while idle; the idle-recovery path
	// takes its own snapshot.
	identityChanged := id.SessionID != l.lastSessionID || id.WindowID != l.lastWindowID
	if identityChanged && !l.idle.idle &&
		ev.Type != EventFullSnapshot && ev.Type != EventMeta {
		if l.requestSnapshotLocked("session_change") {
			l.pending = append(l.pending, ev)
			return
		}
		if !l.started {
			return
		}
	}

	// Re-evaluate the sampling decision when the session id moved since the
	// previous event; this can promote to sampled or exclude outright.
	if id.SessionID != l.lastSessionID {
		l.lastSessionID = id.SessionID
		l.applyStateLocked(id.SessionID, "session_change")
		if l.state == StateDisabled {
			metrics.IncDrop("sampled_out")
			return
		}
	}
	l.lastWindowID = id.WindowID

	// Idle classification. The engine's own idle markers bypass it so the
	// transition annotations themselves reach the buffer.
	if !isIdleMarker(ev) {
		res := l.idle.observe(ev.Timestamp, act)
		switch {
		case res.EnteredIdle:
			metrics.IdleTransitionsTotal.WithLabelValues("enter").Inc()
			l.logger.Info().
				Str("event", "idle.enter").
				Str(rblog.FieldSessionID, id.SessionID).
				Dur("inactive_for", res.InactiveFor).
				Msg("session went idle")
			l.emitAnnotationLocked(TagSessionIdle, map[string]any{
				"reason":              "user inactivity",
				"timeSinceLastActive": res.InactiveFor.Milliseconds(),
				"threshold":           l.opts.IdleThreshold.Milliseconds(),
			})
			metrics.IncDrop("idle")
			return
		case res.Drop:
			metrics.IncDrop("idle")
			return
		case res.ExitedIdle:
			metrics.IdleTransitionsTotal.WithLabelValues("exit").Inc()
			l.logger.Info().
				Str("event", "idle.exit").
				Str(rblog.FieldSessionID, id.SessionID).
				Msg("session active again")
			l.emitAnnotationLocked(TagSessionActive, map[string]any{"reason": "user activity"})
			if !l.started {
				return
			}
			// A long idle gap invalidates the anchor; snapshot first, then
			// the recovering event.
			l.requestSnapshotLocked("idle_recovery")
			if !l.started {
				return
			}
			l.pending = append(l.pending, ev)
			return
		}
	}

	size := ev.Size()

	// A stale segment flushes under the identifiers it was recorded with,
	// before the buffer adopts the new identity.
	if !l.buf.empty() && l.buf.sessionID != id.SessionID {
		l.flushLocked("session_change")
		if !l.buf.empty() {
			// Flush was suppressed (pre-decide or flag-gated). The segment
			// can never legally join the new session, so discard it loudly
			// rather than breaking the one-session-per-buffer invariant.
			dropped := len(l.buf.events)
			l.logger.Warn().
				Str("event", "buffer.stale_dropped").
				Int(rblog.FieldEventCount, dropped).
				Str(rblog.FieldSessionID, l.buf.sessionID).
				Msg("discarding stale segment that was never cleared to send")
			metrics.EventsDroppedTotal.WithLabelValues("stale_segment").Add(float64(dropped))
			l.buf = newBuffer()
			metrics.BufferBytes.Set(0)
		}
	}

	// Size policy: hand off everything accumulated so far and seed a fresh
	// buffer with the event that would have pushed it over the limit.
	if !l.buf.empty() && l.buf.size+size > l.opts.MaxBufferBytes {
		l.flushLocked("size")
	}

	l.buf.append(ev, size, id.SessionID, id.WindowID)
	metrics.EventsBufferedTotal.Inc()
	metrics.BufferBytes.Set(float64(l.buf.size))

	if ev.Type == EventFullSnapshot {
		l.scheduler.Rearm()
	}

	// Debounced flush: arm once and leave armed so quiet periods drain the
	// buffer without rescheduling on every event.
	if l.flushTimer == nil {
		l.flushTimer = l.opts.Clock.AfterFunc(l.opts.FlushInterval, l.onFlushTimer)
	}
}

// requestSnapshotLocked asks the recorder for a full snapshot with the lock
// released. It reports whether the snapshot arrived synchronously (it is then
// first in the pending queue). A recorder that stays silent does not stall
// the stream.
func (l *Lifecycle) requestSnapshotLocked(origin string) bool {
	metrics.SnapshotRequestsTotal.WithLabelValues(origin).Inc()
	l.snapshotPending = true
	rec := l.deps.Recorder
	l.mu.Unlock()
	rec.TakeFullSnapshot()
	l.mu.Lock()
	if l.snapshotPending {
		l.snapshotPending = false
		return false
	}
	return true
}

// emitAnnotationLocked forwards an annotation to the recorder (lock released,
// the recorder echoes it back as a Custom event) or queues it when detached.
func (l *Lifecycle) emitAnnotationLocked(name string, payload any) {
	if l.attached {
		rec := l.deps.Recorder
		l.mu.Unlock()
		rec.AddCustomEvent(name, payload)
		l.mu.Lock()
		return
	}
	if l.queue.push(name, payload) {
		metrics.CustomQueueDroppedTotal.Inc()
	}
}

// forwardQueuedLocked drains the custom-event backlog once the recorder is
// reachable again, preserving original order.
func (l *Lifecycle) forwardQueuedLocked() {
	if !l.attached || l.queue.len() == 0 {
		return
	}
	entries := l.queue.drain()
	rec := l.deps.Recorder
	l.mu.Unlock()
	for _, e := range entries {
		rec.AddCustomEvent(e.Name, e.Payload)
	}
	l.mu.Lock()
}

// Flush sends the buffered segment now, subject to the usual policy checks.
func (l *Lifecycle) Flush() {
	l.mu.Lock()
	l.flushLocked("manual")
	l.mu.Unlock()
}

func (l *Lifecycle) onFlushTimer() {
	l.mu.Lock()
	l.flushTimer = nil
	l.flushLocked("interval")
	l.mu.Unlock()
}

func (l *Lifecycle) onSnapshotTimer() {
	l.mu.Lock()
	if !l.started || l.state == StateDisabled {
		l.mu.Unlock()
		return
	}
	rec := l.deps.Recorder
	l.mu.Unlock()

	metrics.SnapshotRequestsTotal.WithLabelValues("scheduled").Inc()
	rec.TakeFullSnapshot()
	l.scheduler.Rearm()
}

// flushLocked hands the buffer to the sink as one unit and replaces it.
// No-op while the buffer is empty or transmission is not allowed; the
// minimum-duration policy fails closed on short sessions and open on
// negative durations.
func (l *Lifecycle) flushLocked(trigger string) {
	if l.flushTimer != nil {
		l.flushTimer.Stop()
		l.flushTimer = nil
	}
	if l.buf.empty() {
		return
	}
	if l.state == StateBuffering || l.state == StateDisabled {
		metrics.FlushSuppressedTotal.WithLabelValues("state").Inc()
		return
	}

	if l.minDurationSet {
		id := l.deps.Identity.Current(true)
		if id.SessionID == l.buf.sessionID {
			duration := time.Duration(l.buf.lastTS-id.SessionStart.UnixMilli()) * time.Millisecond
			if duration >= 0 && duration < l.minDuration {
				metrics.FlushSuppressedTotal.WithLabelValues("minimum_duration").Inc()
				l.logger.Debug().
					Str("event", "flush.below_minimum").
					Str(rblog.FieldSessionID, id.SessionID).
					Int64("duration_ms", duration.Milliseconds()).
					Msg("holding buffer until minimum session duration")
				// Keep the retry loop alive; without a timer a quiet session
				// would hold its data forever.
				l.flushTimer = l.opts.Clock.AfterFunc(l.opts.FlushInterval, l.onFlushTimer)
				return
			}
			if duration < 0 {
				// Session start and event timestamps disagree; flushing
				// anyway avoids unbounded growth.
				l.logger.Warn().
					Str("event", "flush.negative_duration").
					Str(rblog.FieldSessionID, id.SessionID).
					Int64("duration_ms", duration.Milliseconds()).
					Msg("negative session duration")
			}
		}
	}

	payload := FlushPayload{
		SessionID: l.buf.sessionID,
		WindowID:  l.buf.windowID,
		Events:    l.buf.events,
		Bytes:     l.buf.size,
	}
	l.buf = newBuffer()
	metrics.BufferBytes.Set(0)
	metrics.IncFlush(trigger, payload.Bytes)

	l.logger.Debug().
		Str("event", "lifecycle.flush").
		Str(rblog.FieldTrigger, trigger).
		Str(rblog.FieldSessionID, payload.SessionID).
		Int(rblog.FieldEventCount, len(payload.Events)).
		Int(rblog.FieldBytes, payload.Bytes).
		Msg("flushing buffer")

	l.deps.Sink.Send(payload)
}

// OnRemoteConfig applies a decide response: persist the outcome, adopt the
// recording parameters, and move the state machine. A newly-enabled engine
// starts; a newly-disabled one stops.
func (l *Lifecycle) OnRemoteConfig(resp config.DecideResponse) {
	flags := resp.Flags(l.logger)
	if err := l.deps.Flags.Save(flags); err != nil {
		l.logger.Warn().Err(err).Str("event", "config.persist_failed").Msg("could not persist recording flags")
	}

	l.mu.Lock()
	l.adoptFlagsLocked(flags)
	started := l.started
	if started {
		l.applyStateLocked(l.lastSessionID, "decide")
	}
	l.mu.Unlock()

	if !l.deps.Resolver.Enabled() {
		if started {
			l.Stop()
		}
		return
	}
	if !started {
		l.StartIfEnabled()
	}
}

func (l *Lifecycle) adoptFlagsLocked(f flagstore.Flags) {
	l.endpoint = f.Endpoint
	l.sampleRate = f.SampleRate
	if f.LinkedFlag != l.linkedFlag {
		l.linkedFlag = f.LinkedFlag
		l.linkedSeen = false
	}
	if d, ok := f.MinimumDuration(); ok {
		l.minDuration = d
		l.minDurationSet = true
	} else {
		l.minDurationSet = false
	}
	l.canvas = f.Canvas
}

// ReloadFlags re-reads the persisted flag document and applies it the way a
// fresh decide response would. Used when an external writer updates the store
// behind the engine's back, e.g. the flags file changing on disk.
func (l *Lifecycle) ReloadFlags() {
	flags, err := l.deps.Flags.Load()
	if err != nil {
		l.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("could not reload recording flags")
		return
	}

	l.mu.Lock()
	l.adoptFlagsLocked(flags)
	started := l.started
	if started {
		l.applyStateLocked(l.lastSessionID, "reload")
	}
	l.mu.Unlock()

	if !l.deps.Resolver.Enabled() {
		if started {
			l.Stop()
		}
		return
	}
	if !started {
		l.StartIfEnabled()
	}
}

// OnFeatureFlags updates the linked-flag gate from a feature-flag change
// notification. The gate toggles buffering and active/sampled independent of
// server enablement once recording has started.
func (l *Lifecycle) OnFeatureFlags(activeFlags []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.linkedFlag == "" {
		return
	}
	seen := slices.Contains(activeFlags, l.linkedFlag)
	if seen == l.linkedSeen {
		return
	}
	l.linkedSeen = seen
	if l.started {
		l.applyStateLocked(l.lastSessionID, "linked_flag")
	}
}

// onSessionRotated reacts to the identity provider retiring a session on its
// own schedule (max idle / max duration). Delivered asynchronously.
func (l *Lifecycle) onSessionRotated(id identity.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	l.lastSessionID = id.SessionID
	l.lastWindowID = id.WindowID
	l.applyStateLocked(id.SessionID, "rotation")
}

// AddCustomEvent records a side-channel annotation into the replay stream.
// While the recorder is detached the annotation waits in a bounded queue
// (oldest dropped first) and is forwarded on the next successful dispatch.
func (l *Lifecycle) AddCustomEvent(name string, payload any) {
	l.mu.Lock()
	if l.attached {
		rec := l.deps.Recorder
		l.mu.Unlock()
		rec.AddCustomEvent(name, payload)
		return
	}
	if l.queue.push(name, payload) {
		metrics.CustomQueueDroppedTotal.Inc()
	}
	l.mu.Unlock()
}

// QueuedAnnotations reports the custom-event backlog length.
func (l *Lifecycle) QueuedAnnotations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.len()
}

// desiredStateLocked derives the state from enablement, decide knowledge,
// the linked-flag gate and sampling, in that order. A nil sample rate reaches
// StateActive directly and never consumes a sampling-cache slot.
func (l *Lifecycle) desiredStateLocked(sessionID string) State {
	if !l.started || !l.deps.Resolver.Enabled() {
		return StateDisabled
	}
	if l.endpoint == "" {
		return StateBuffering
	}
	if l.linkedFlag != "" && !l.linkedSeen {
		return StateBuffering
	}
	if l.sampleRate != nil {
		if l.deps.Sampler.Decide(l.sampleRate, sessionID) {
			return StateSampled
		}
		return StateDisabled
	}
	return StateActive
}

func (l *Lifecycle) applyStateLocked(sessionID, cause string) {
	next := l.desiredStateLocked(sessionID)
	if next == l.state {
		return
	}
	prev := l.state
	l.state = next

	l.logger.Info().
		Str("event", "lifecycle.state").
		Str(rblog.FieldOldState, string(prev)).
		Str(rblog.FieldNewState, string(next)).
		Str("cause", cause).
		Str(rblog.FieldSessionID, sessionID).
		Msg("state transition")

	switch next {
	case StateActive, StateSampled:
		// Transmission just became allowed; schedule the backlog.
		if !l.buf.empty() && l.flushTimer == nil {
			l.flushTimer = l.opts.Clock.AfterFunc(l.opts.FlushInterval, l.onFlushTimer)
		}
	case StateDisabled:
		if !l.buf.empty() {
			metrics.EventsDroppedTotal.WithLabelValues("disabled").Add(float64(len(l.buf.events)))
			l.buf = newBuffer()
			metrics.BufferBytes.Set(0)
		}
		if l.flushTimer != nil {
			l.flushTimer.Stop()
			l.flushTimer = nil
		}
	case StateBuffering:
		// Events keep accumulating; nothing to cancel. The flush policy
		// itself refuses to send in this state.
	}
}
