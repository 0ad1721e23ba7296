package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"strings"
)

// NativeSource loads Go native plugins (.so files) from a directory.
//
// A plugin file must export one of:
//   - func New(plugins.Host) (plugins.Plugin, error)
//   - var Plugin plugins.Plugin
//
// Build a plugin:
//
//	go build -buildmode=plugin -o plugins/weather.so ./weather
type NativeSource struct {
	Dir    string
	logger *slog.Logger
}

// NewNativeSource creates a source reading <dir>/<name>.so.
func NewNativeSource(dir string, logger *slog.Logger) *NativeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeSource{Dir: dir, logger: logger.With("component", "plugins.native")}
}

func (s *NativeSource) Name() string { return "native" }

func (s *NativeSource) Open(ctx context.Context, name string, host Host) (Plugin, error) {
	if s.Dir == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	path := filepath.Join(s.Dir, name+".so")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	// Trust check: reject plugins in world-writable directories or
	// symlinked outside the plugin directory.
	if trusted, reason := isTrustedPlugin(path, s.Dir); !trusted {
		return nil, fmt.Errorf("untrusted plugin: %s", reason)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin: %w", err)
	}

	if sym, err := p.Lookup("New"); err == nil {
		if f, ok := sym.(func(Host) (Plugin, error)); ok {
			s.logger.Debug("loading native plugin via factory", "path", path)
			return f(host)
		}
	}
	if sym, err := p.Lookup("Plugin"); err == nil {
		if pl, ok := sym.(*Plugin); ok && pl != nil && *pl != nil {
			s.logger.Debug("loading native plugin", "path", path)
			return *pl, nil
		}
	}
	return nil, errors.New("plugin exports neither New nor Plugin symbol")
}

// isTrustedPlugin checks whether a plugin .so file is safe to load.
// Returns (true, "") if trusted, or (false, reason) if not.
func isTrustedPlugin(pluginPath, pluginDir string) (bool, string) {
	realDir, err := filepath.EvalSymlinks(pluginDir)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve plugin dir: %v", err)
	}
	realPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve symlinks: %v", err)
	}
	cleanDir := filepath.Clean(realDir)
	if !strings.HasPrefix(filepath.Clean(realPath), cleanDir+string(filepath.Separator)) {
		return false, fmt.Sprintf("plugin symlink escapes plugin directory: %s -> %s", pluginPath, realPath)
	}

	if runtime.GOOS != "windows" {
		dirInfo, err := os.Stat(pluginDir)
		if err != nil {
			return false, fmt.Sprintf("cannot stat plugin dir: %v", err)
		}
		if dirInfo.Mode().Perm()&0o002 != 0 {
			return false, fmt.Sprintf("plugin directory is world-writable: %s", pluginDir)
		}
	}
	return true, ""
}
