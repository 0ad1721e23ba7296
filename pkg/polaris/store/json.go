package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps one indented JSON file per key under a directory.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSON creates a JSON file store rooted at dir. The directory is created
// on the first Save.
func NewJSON(dir string) *JSONStore {
	return &JSONStore{dir: dir}
}

func (s *JSONStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json")
}

// Load reads the document for key. A missing file yields empty data.
func (s *JSONStore) Load(ctx context.Context, key string) (Data, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	data, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return data, nil
}

// Save writes the document atomically (temp file + rename), creating parent
// directories as needed. Keys are written sorted (encoding/json sorts maps).
func (s *JSONStore) Save(ctx context.Context, key string, data Data) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	raw, err := Encode(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".polaris-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

var _ Store = (*JSONStore)(nil)
