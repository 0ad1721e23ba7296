package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownPlugin is returned by a Source that does not provide a plugin.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Source resolves plugin names to plugin instances.
type Source interface {
	// Name identifies the source in logs ("builtin", "native", "lua").
	Name() string

	// Open creates the named plugin. It returns an error wrapping
	// ErrUnknownPlugin when the source has no such plugin.
	Open(ctx context.Context, name string, host Host) (Plugin, error)
}

// Factory creates a plugin bound to a host.
type Factory func(host Host) (Plugin, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a built-in plugin available by name. It is intended to be
// called from init functions and panics on duplicates.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("plugins: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("plugins: Register called twice for " + name)
	}
	factories[name] = f
}

// Registered returns the names of the built-in plugins, sorted.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type builtinSource struct{}

// Builtin returns the source of plugins registered with Register.
func Builtin() Source { return builtinSource{} }

func (builtinSource) Name() string { return "builtin" }

func (builtinSource) Open(ctx context.Context, name string, host Host) (Plugin, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return f(host)
}

// FactorySource serves plugins from an explicit factory map.
type FactorySource map[string]Factory

func (FactorySource) Name() string { return "factory" }

func (s FactorySource) Open(ctx context.Context, name string, host Host) (Plugin, error) {
	f, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return f(host)
}
