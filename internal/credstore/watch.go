// ABOUTME: Cross-instance credential change watcher built on fsnotify
// ABOUTME: Diffs the backend against the last snapshot and notifies subscribers

package credstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the credential database directory and re-reads the backend
// whenever another client instance writes to it, emitting one Change per
// differing key to the store's subscribers. Local writes update the
// snapshot first, so this process never re-notifies its own mutations.
//
// The notification is best-effort and not transactional: concurrent writers
// resolve by last-write-wins, observable at the next re-read.
// Watch blocks until ctx is cancelled or the watcher fails.
func (s *Store) Watch(ctx context.Context) error {
	backend, ok := s.backend.(*SQLiteBackend)
	if !ok {
		return fmt.Errorf("watch requires a file-backed backend")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: SQLite in WAL mode writes the
	// -wal and -shm sidecars, and some editors replace files wholesale.
	dir := filepath.Dir(backend.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.logger.Debug("watching credential database", "dir", dir)

	base := filepath.Base(backend.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			changes, err := s.readAll()
			if err != nil {
				s.logger.Warn("re-reading credentials after change", "error", err)
				continue
			}
			for _, c := range changes {
				s.logger.Debug("external credential change", "key", c.Key)
				s.notify(c)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credential watcher error", "error", err)
		}
	}
}
