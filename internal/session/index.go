package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marrowlabs/ferryman/internal/logger"
)

// pathIndex is the persisted session-id to transcript-path map. It uses
// read-merge-write semantics so entries written by a previous run are
// never clobbered, and treats a missing or corrupt file as empty.
type pathIndex struct {
	mu   sync.Mutex
	path string
}

func newPathIndex(path string) *pathIndex {
	return &pathIndex{path: path}
}

func (i *pathIndex) load() map[string]string {
	data, err := os.ReadFile(i.path)
	if err != nil {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Error("session index %s corrupt, starting empty: %v", i.path, err)
		return map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}
	return m
}

// Lookup returns the persisted path for a session id.
func (i *pathIndex) Lookup(id string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	path, ok := i.load()[id]
	return path, ok
}

// Record merges one mapping into the persisted index.
func (i *pathIndex) Record(id, path string) error {
	return i.Merge(map[string]string{id: path})
}

// Merge folds discovered mappings into the persisted index and writes it
// back atomically.
func (i *pathIndex) Merge(entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	m := i.load()
	changed := false
	for id, path := range entries {
		if m[id] != path {
			m[id] = path
			changed = true
		}
	}
	if !changed {
		return nil
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("session index: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("session index: create dir: %w", err)
	}
	tmpPath := i.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("session index: write: %w", err)
	}
	if err := os.Rename(tmpPath, i.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("session index: finalize: %w", err)
	}
	return nil
}

// Snapshot returns a copy of all persisted mappings.
func (i *pathIndex) Snapshot() map[string]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.load()
}
