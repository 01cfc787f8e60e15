package targets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads path into store each time the file is written or replaced,
// until ctx is cancelled. A file that fails to parse is logged and the
// previous set stays active.
//
// The parent directory is watched rather than the file, so editors that save
// by renaming a new file over the old one keep triggering reloads.
func Watch(ctx context.Context, path string, store *Store, logger zerolog.Logger) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("targets: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("targets: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("targets: watch %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("watching clinical targets")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			// Atomic saves arrive as Create after a rename.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			set, err := Load(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("targets reload failed, keeping previous set")
				continue
			}
			store.Replace(set)
			logger.Info().Str("path", path).Msg("clinical targets reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("targets watcher error")
		}
	}
}
