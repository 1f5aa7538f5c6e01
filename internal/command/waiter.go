package command

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// waitForFile blocks until path exists or ctx is done. It prefers an
// fsnotify watch on the parent directory and keeps a poll tick as a fallback
// for filesystems that don't deliver events reliably.
func waitForFile(ctx context.Context, path string, pollInterval time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.Debug().Err(err).Str("dir", filepath.Dir(path)).Msg("waiter: watch failed, polling only")
		}
	} else {
		log.Debug().Err(err).Msg("waiter: fsnotify unavailable, polling only")
		watcher = nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var watchEvents chan fsnotify.Event
	if watcher != nil {
		watchEvents = watcher.Events
	}

	for {
		// Re-check first: the file may have appeared between the initial
		// stat and the watch being established.
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-watchEvents:
			if ev.Name == path && (ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename)) {
				if _, err := os.Stat(path); err == nil {
					return nil
				}
			}
		case <-ticker.C:
		}
	}
}
