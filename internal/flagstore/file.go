// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package flagstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// FileStore persists flags as a JSON document, written atomically so a crash
// mid-save never leaves a truncated file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted flags. A missing file yields zero Flags.
func (s *FileStore) Load() (Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Flags{}, nil
		}
		return Flags{}, fmt.Errorf("read flags file: %w", err)
	}

	var f Flags
	if err := json.Unmarshal(data, &f); err != nil {
		return Flags{}, fmt.Errorf("decode flags file %s: %w", s.path, err)
	}
	return f, nil
}

// Save writes the flags atomically (temp file, fsync, rename).
func (s *FileStore) Save(f Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending flags file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write flags: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace flags file: %w", err)
	}
	return nil
}
