package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/logutil"
)

// FileStore keeps settings in a YAML file. Saves are atomic
// (write-to-temp then rename) so a crash never leaves a torn document.
type FileStore struct {
	path string
	log  logger.LoggerInterface

	mu   sync.RWMutex
	data map[string]any

	subMu  sync.Mutex
	subs   map[int]func(key string)
	nextID int
}

// NewFileStore loads the YAML document at path, creating an empty store
// when the file does not exist yet.
func NewFileStore(path string, log logger.LoggerInterface) (*FileStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &FileStore{
		path: path,
		log:  log,
		data: map[string]any{},
		subs: map[int]func(string){},
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if s.data == nil {
		s.data = map[string]any{}
	}
	return s, nil
}

// NewMemStore returns a store that never touches disk. Save is a no-op.
// Intended for tests and ephemeral profiles.
func NewMemStore(log logger.LoggerInterface) *FileStore {
	if log == nil {
		log = logger.Nop()
	}
	return &FileStore{
		log:  log,
		data: map[string]any{},
		subs: map[int]func(string){},
	}
}

func (s *FileStore) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := any(s.data)
	for _, seg := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return def
		}
		node, ok = m[seg]
		if !ok {
			return def
		}
	}
	return node
}

func (s *FileStore) Set(path string, value any) {
	s.mu.Lock()
	segs := strings.Split(path, ".")
	m := s.data
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[segs[len(segs)-1]] = value
	s.mu.Unlock()

	s.log.Debugw("settings: updated", "key", path, "value", logutil.RedactValue(path, value))
	s.notify(path)
}

func (s *FileStore) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	raw, err := yaml.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}

func (s *FileStore) OnChange(fn func(key string)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify runs subscribers outside the data lock so callbacks may read
// (or even write) settings without deadlocking.
func (s *FileStore) notify(key string) {
	s.subMu.Lock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

// snapshotFlat returns the document flattened to dotted-path leaves.
func (s *FileStore) snapshotFlat() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]any{}
	flatten("", s.data, out)
	return out
}

func flatten(prefix string, node map[string]any, out map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = v
	}
}
