package lua

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

// Source loads <Dir>/<name>.lua scripts.
type Source struct {
	Dir     string
	Timeout time.Duration
	logger  *slog.Logger
}

// NewSource creates a script source.
func NewSource(dir string, timeout time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{Dir: dir, Timeout: timeout, logger: logger.With("component", "plugins.lua")}
}

func (s *Source) Name() string { return "lua" }

func (s *Source) Open(ctx context.Context, name string, host plugins.Host) (plugins.Plugin, error) {
	if s.Dir == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %s", plugins.ErrUnknownPlugin, name)
	}
	path := filepath.Join(s.Dir, name+".lua")
	code, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", plugins.ErrUnknownPlugin, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s.logger.Debug("loading script plugin", "path", path)
	return New(name, string(code), host, s.Timeout)
}

// Scripts lists the script plugin names available in Dir.
func (s *Source) Scripts() ([]string, error) {
	if s.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
		}
	}
	return names, nil
}
