package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reports edits to the configuration file at path until ctx is done.
// Plugin selection is fixed for the life of the process, so a change is only
// logged and passed to onChange (which may be nil); it is never applied.
//
// The parent directory is watched rather than the file because editors
// usually replace files instead of writing them in place.
func Watch(ctx context.Context, path string, log logrus.FieldLogger, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("path", abs).Warn("Configuration file changed; restart the server to apply it")
			if onChange != nil {
				onChange(abs)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}
