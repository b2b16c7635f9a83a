package settings

import (
	"fmt"
	"os"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Watch monitors the backing file for external edits and folds them into
// the live store, notifying subscribers once per changed key. It blocks
// until stop is closed. Stores created with NewMemStore have nothing to
// watch and return immediately.
//
// A reload that fails to parse is logged and dropped; the previous
// document stays active.
func (s *FileStore) Watch(stop <-chan struct{}) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("settings: watch %s: %w", s.path, err)
	}

	s.log.Infow("settings: watching for changes", "path", s.path)

	for {
		select {
		case <-stop:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which surfaces as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			s.reload()

			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(s.path)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Errorw("settings: watcher error", "error", werr)
		}
	}
}

func (s *FileStore) reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Errorw("settings: reload failed, keeping previous document",
			"path", s.path, "error", err)
		return
	}

	fresh := map[string]any{}
	if err := yaml.Unmarshal(raw, &fresh); err != nil {
		s.log.Errorw("settings: reload failed, keeping previous document",
			"path", s.path, "error", err)
		return
	}

	before := s.snapshotFlat()

	s.mu.Lock()
	s.data = fresh
	s.mu.Unlock()

	after := s.snapshotFlat()

	for key, v := range after {
		if old, ok := before[key]; !ok || !reflect.DeepEqual(old, v) {
			s.notify(key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			s.notify(key)
		}
	}
}
