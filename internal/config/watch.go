package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/anyclaude/anyclaude/internal/logging"
)

// ReloadNotifier is called with the new snapshot each time a hot-reload
// succeeds (the Config Store's reload notification).
type ReloadNotifier func(Snapshot)

const defaultDebounce = 200 * time.Millisecond

// Watch starts an fsnotify watch on the parent directory of the store's
// config file (not the file itself) so the watch survives editors that
// replace the file via rename rather than in-place write.
// It runs until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, notify ReloadNotifier) error {
	return s.WatchDebounced(ctx, defaultDebounce, notify)
}

// WatchDebounced is Watch with an explicit debounce window.
func (s *Store) WatchDebounced(ctx context.Context, window time.Duration, notify ReloadNotifier) error {
	log := logging.WithComponent("config.watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	debounced := debounce.New(window)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(func() { s.reload(log, notify) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", slog.Any("error", err))
		}
	}
}

// reload attempts to reload the config file. On success it publishes the
// new snapshot and notifies; on failure it logs and keeps the previous
// snapshot, so a partially valid update never becomes visible.
func (s *Store) reload(log *slog.Logger, notify ReloadNotifier) {
	cfg, err := LoadFile(s.path)
	if err != nil {
		log.Warn("config reload failed, keeping previous snapshot", slog.Any("error", err))
		return
	}
	s.publish(cfg)
	log.Info("config reloaded")
	if notify != nil {
		notify(cfg)
	}
}
