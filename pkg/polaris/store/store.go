// Package store provides the persistent key/value store used by plugins.
// Each key holds a JSON document (Data). Backends: a JSON file per key
// (default), SQLite and PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// Data is one stored document.
type Data map[string]any

// Store is a document store keyed by name.
type Store interface {
	// Load returns the document stored under key. A missing key yields an
	// empty, non-nil Data and no error.
	Load(ctx context.Context, key string) (Data, error)

	// Save replaces the document stored under key.
	Save(ctx context.Context, key string, data Data) error

	// Close releases backend resources.
	Close() error
}

// Errors.
var (
	ErrInvalidKey     = errors.New("store: invalid key")
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "json" (default), "sqlite" or "postgresql".
	Backend string `yaml:"backend"`

	// Path is the data directory for json, or the database file for sqlite.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// Open creates the backend described by cfg.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch strings.ToLower(cfg.Backend) {
	case "", "json":
		dir := cfg.Path
		if dir == "" {
			dir = "./data"
		}
		logger.Debug("using json store", "dir", dir)
		return NewJSON(dir), nil
	case "sqlite", "sqlite3":
		p := cfg.Path
		if p == "" {
			p = "./data/polaris.db"
		}
		logger.Debug("using sqlite store", "path", p)
		return OpenSQLite(p)
	case "postgresql", "postgres":
		logger.Debug("using postgresql store")
		return OpenPostgreSQL(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// ValidateKey rejects keys that are empty, absolute or escape the data
// directory. Keys may contain "/" to group documents.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Merge copies src into dst recursively. Nested maps are merged; any other
// value in src replaces the one in dst. dst is returned for chaining and is
// allocated when nil.
func Merge(dst, src Data) Data {
	if dst == nil {
		dst = Data{}
	}
	for k, sv := range src {
		sm, sok := asMap(sv)
		dm, dok := asMap(dst[k])
		if sok && dok {
			dst[k] = map[string]any(Merge(Data(dm), Data(sm)))
			continue
		}
		dst[k] = sv
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Data:
		return m, true
	}
	return nil, false
}

// Encode marshals a document to its stored form.
func Encode(data Data) ([]byte, error) {
	if data == nil {
		data = Data{}
	}
	return json.MarshalIndent(data, "", "  ")
}

// Decode parses a stored document. Empty input yields empty Data.
func Decode(raw []byte) (Data, error) {
	data := Data{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

// Into decodes a document into a typed value via its JSON form.
func Into(data Data, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// From converts a typed value to a document via its JSON form.
func From(v any) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}
