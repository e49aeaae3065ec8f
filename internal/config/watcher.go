package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the config file when it changes and hands the fresh
// settings to a callback. Editors replace files rather than writing in
// place, so the parent directory is watched and events are debounced.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path. onReload receives every successfully reloaded
// and validated Settings; invalid edits are logged and ignored.
func Watch(path string, onReload func(*Settings)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{watcher: fsw, done: make(chan struct{})}
	go w.loop(path, onReload)

	log.Info().Str("path", path).Msg("Watching configuration file for changes")
	return w, nil
}

func (w *Watcher) loop(path string, onReload func(*Settings)) {
	var debounce *time.Timer
	target := filepath.Clean(path)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				w.reload(path, onReload)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload(path string, onReload func(*Settings)) {
	settings := DefaultSettings()
	if err := applyFile(settings, path); err != nil {
		log.Warn().Err(err).Msg("Ignoring config reload, file unreadable")
		return
	}
	applyEnv(settings)
	if err := settings.Validate(); err != nil {
		log.Warn().Err(err).Msg("Ignoring config reload, validation failed")
		return
	}

	log.Info().Str("path", path).Msg("Configuration reloaded")
	onReload(settings)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
