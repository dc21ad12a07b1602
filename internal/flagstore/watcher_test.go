// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package flagstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestWatcher(t *testing.T, store *FileStore) chan Flags {
	t.Helper()

	changed := make(chan Flags, 1)
	w := NewWatcher(store, func(f Flags) {
		select {
		case changed <- f:
		default:
		}
	})
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	return changed
}

func TestWatcherNotifiesOnSave(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "flags.json"))
	require.NoError(t, store.Save(Flags{}))

	changed := startTestWatcher(t, store)

	require.NoError(t, store.Save(Flags{Enabled: true, Endpoint: "https://capture.example.com/s/"}))

	select {
	case f := <-changed:
		assert.True(t, f.Enabled)
		assert.Equal(t, "https://capture.example.com/s/", f.Endpoint)
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after save")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "flags.json"))
	require.NoError(t, store.Save(Flags{}))

	changed := startTestWatcher(t, store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600))

	select {
	case <-changed:
		t.Fatal("sibling write must not trigger a reload")
	case <-time.After(150 * time.Millisecond):
	}
}
