// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sampling makes per-session recording inclusion decisions.
package sampling

import (
	"math/rand"
	"sync"
	"time"
)

// Decider draws one uniform value per session id and caches the outcome, so
// a session is either fully recorded or fully excluded. Entries are never
// evicted; session ids are bounded by process lifetime.
type Decider struct {
	mu        sync.Mutex
	rng       *rand.Rand
	decisions map[string]bool
}

// New returns a Decider seeded from the current time.
func New() *Decider {
	return NewWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource returns a Decider using the given random source, for
// deterministic tests.
func NewWithSource(src rand.Source) *Decider {
	return &Decider{
		rng:       rand.New(src),
		decisions: make(map[string]bool),
	}
}

// Decide returns whether the session is sampled in. A nil rate means no
// sampling constraint: the caller treats the session as always-in, and no
// cache slot is consumed. rate 0 always excludes; rate 1 always includes
// (Float64 draws from [0,1), so a 1.0 rate can never spuriously exclude).
func (d *Decider) Decide(rate *float64, sessionID string) bool {
	if rate == nil {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cached, ok := d.decisions[sessionID]; ok {
		return cached
	}

	decision := d.rng.Float64() < *rate
	d.decisions[sessionID] = decision
	return decision
}

// Cached returns the stored decision for a session id, if one was made.
func (d *Decider) Cached(sessionID string) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.decisions[sessionID]
	return v, ok
}
