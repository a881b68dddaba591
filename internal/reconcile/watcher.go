package reconcile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileWatcher turns changes of the module configuration and probes files
// into reconciliation events. The parent directories are watched, not the
// files themselves, so atomic replace-by-rename is seen too.
type FileWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	probesPath string
	events     chan<- Event
}

// NewFileWatcher watches the given files; either path may be empty.
func NewFileWatcher(configPath, probesPath string, events chan<- Event) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		configPath: configPath,
		probesPath: probesPath,
		events:     events,
	}

	dirs := map[string]bool{}
	for _, path := range []string{configPath, probesPath} {
		if path == "" {
			continue
		}
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return fw, nil
}

// Run forwards file change events until the context is cancelled.
func (w *FileWatcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}

			var out Event
			switch event.Name {
			case w.configPath:
				out = Event{Type: EventConfigChanged, Path: event.Name}
			case w.probesPath:
				out = Event{Type: EventProbesChanged, Path: event.Name}
			default:
				continue
			}

			select {
			case w.events <- out:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file watcher error")
		}
	}
}
