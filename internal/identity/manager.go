// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package identity provides the default session/window identity source for
// the capture engine. A session id rotates when the session has been inactive
// past the max-idle bound or has simply lived past the max-duration bound;
// the window id is fixed per manager (one manager per page context).
package identity

import (
	"sync"
	"time"

	"github.com/ManuGH/replaybuf/internal/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxIdle is how long a session may sit without activity before a
	// lookup rotates it. Deliberately longer than the engine's idle-detection
	// threshold: detection marks a session quiet, rotation retires it.
	DefaultMaxIdle = 30 * time.Minute

	// DefaultMaxDuration bounds the total lifetime of one session id.
	DefaultMaxDuration = 24 * time.Hour
)

// Identity is one resolved session/window pair.
type Identity struct {
	SessionID    string
	WindowID     string
	SessionStart time.Time
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	MaxIdle     time.Duration
	MaxDuration time.Duration
	// Now overrides the time source for tests.
	Now func() time.Time
}

// Manager issues and rotates session identifiers.
type Manager struct {
	mu           sync.Mutex
	opts         Options
	sessionID    string
	windowID     string
	sessionStart time.Time
	lastActivity time.Time
	subscribers  []func(Identity)
	logger       zerolog.Logger
}

// NewManager creates a manager with a fresh session and window id.
func NewManager(opts Options) *Manager {
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = DefaultMaxIdle
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	now := opts.Now()
	return &Manager{
		opts:         opts,
		sessionID:    uuid.NewString(),
		windowID:     uuid.NewString(),
		sessionStart: now,
		lastActivity: now,
		logger:       log.WithComponent("identity"),
	}
}

// Current resolves the session and window ids. A non-readOnly lookup counts
// as activity: it extends the session and may rotate an expired one first.
// ReadOnly lookups never mutate state.
func (m *Manager) Current(readOnly bool) Identity {
	m.mu.Lock()

	now := m.opts.Now()
	var rotated *Identity
	if !readOnly {
		if now.Sub(m.lastActivity) > m.opts.MaxIdle || now.Sub(m.sessionStart) > m.opts.MaxDuration {
			id := m.rotateLocked(now)
			rotated = &id
		}
		m.lastActivity = now
	}
	out := Identity{
		SessionID:    m.sessionID,
		WindowID:     m.windowID,
		SessionStart: m.sessionStart,
	}
	subs := m.subscribers
	m.mu.Unlock()

	if rotated != nil {
		notify(subs, *rotated)
	}
	return out
}

// OnRotate registers a callback invoked after each session rotation with the
// new identity. Callbacks are delivered asynchronously: the lookup that
// triggered the rotation may itself originate from a subscriber's lock.
func (m *Manager) OnRotate(fn func(Identity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Rotate forces a new session id, e.g. when the embedding application resets
// the user.
func (m *Manager) Rotate() Identity {
	m.mu.Lock()
	now := m.opts.Now()
	id := m.rotateLocked(now)
	m.lastActivity = now
	subs := m.subscribers
	m.mu.Unlock()

	notify(subs, id)
	return id
}

func notify(subs []func(Identity), id Identity) {
	for _, fn := range subs {
		go fn(id)
	}
}

func (m *Manager) rotateLocked(now time.Time) Identity {
	old := m.sessionID
	m.sessionID = uuid.NewString()
	m.sessionStart = now

	m.logger.Info().
		Str("event", "identity.rotate").
		Str("old_session_id", old).
		Str(log.FieldSessionID, m.sessionID).
		Msg("session id rotated")

	return Identity{
		SessionID:    m.sessionID,
		WindowID:     m.windowID,
		SessionStart: m.sessionStart,
	}
}
