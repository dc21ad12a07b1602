// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package flagstore

import "sync"

// MemoryStore is an in-process Store for tests and embedded use.
type MemoryStore struct {
	mu    sync.RWMutex
	flags Flags
	set   bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored flags, or zero Flags when nothing was saved yet.
func (s *MemoryStore) Load() (Flags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return Flags{}, nil
	}
	return s.flags, nil
}

// Save replaces the stored flags.
func (s *MemoryStore) Save(f Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
	s.set = true
	return nil
}
