// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package flagstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes a FileStore's backing document and invokes a callback
// after external writes. Events are debounced so editors that save in
// several steps trigger a single reload.
type Watcher struct {
	store    *FileStore
	onChange func(Flags)
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration
}

// NewWatcher builds a watcher over the store. onChange receives the freshly
// loaded flags; it runs on the watcher goroutine.
func NewWatcher(store *FileStore, onChange func(Flags)) *Watcher {
	return &Watcher{
		store:    store,
		onChange: onChange,
		logger:   rblog.WithComponent("flagstore"),
		debounce: 500 * time.Millisecond,
	}
}

// Start begins watching and returns immediately. The watcher stops when ctx
// is cancelled. Save replaces the file's inode, so the parent directory is
// watched and events are filtered by name.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.store.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch flags directory: %w", err)
	}
	w.watcher = fsw

	w.logger.Info().
		Str("event", "flags.watcher_started").
		Str("path", w.store.path).
		Msg("watching flag document for changes")

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	target := filepath.Clean(w.store.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.watcher.Close()
			w.logger.Info().Str("event", "flags.watcher_stopped").Msg("flags watcher stopped")
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Str("event", "flags.watch_error").Msg("flags watcher error")
		}
	}
}

func (w *Watcher) reload() {
	f, err := w.store.Load()
	if err != nil {
		w.logger.Error().Err(err).Str("event", "flags.reload_failed").Msg("flag document unreadable after change")
		return
	}
	w.logger.Info().Str("event", "flags.reloaded").Msg("flag document changed on disk")
	w.onChange(f)
}
