package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileMirror keeps every record in a single JSON document on disk, read once
// at construction and rewritten atomically on each save.
type FileMirror struct {
	path string
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

var _ Mirror = (*FileMirror)(nil)

func NewFileMirror(path string) (*FileMirror, error) {
	if path == "" {
		return nil, fmt.Errorf("mirror path is required")
	}

	f := &FileMirror{
		path: path,
		data: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read mirror file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.data); err != nil {
			slog.Warn("Mirror file is unreadable, starting empty", "path", path, "error", err)
			f.data = make(map[string]json.RawMessage)
		}
	}
	return f, nil
}

func (f *FileMirror) Load(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (f *FileMirror) Save(key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[key] = append(json.RawMessage(nil), value...)

	encoded, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace mirror: %w", err)
	}
	return nil
}
