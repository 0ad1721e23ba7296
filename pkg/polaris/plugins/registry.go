package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// LoadReport summarizes a Load call.
type LoadReport struct {
	Requested int
	Loaded    []string
	Failed    map[string]error
}

// Registry resolves plugin names through its sources and holds the active
// plugin set. Readers take a snapshot with Active; Reload publishes a new
// set with a single atomic swap.
type Registry struct {
	host    Host
	sources []Source
	logger  *slog.Logger

	// mu serializes Reload and Close.
	mu         sync.Mutex
	prefix     atomic.Value // string
	active     atomic.Pointer[Set]
	generation atomic.Uint64
}

// NewRegistry creates a registry with an empty active set. Sources are
// consulted in order for every name.
func NewRegistry(host Host, prefix string, logger *slog.Logger, sources ...Source) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		host:    host,
		sources: sources,
		logger:  logger.With("component", "plugins"),
	}
	r.prefix.Store(prefix)
	r.active.Store(&Set{Prefix: prefix})
	return r
}

// Prefix returns the command prefix used to compile triggers.
func (r *Registry) Prefix() string { return r.prefix.Load().(string) }

// SetPrefix changes the command prefix. It takes effect on the next Reload.
func (r *Registry) SetPrefix(prefix string) { r.prefix.Store(prefix) }

// Active returns the current plugin set. The returned set is never mutated.
func (r *Registry) Active() *Set { return r.active.Load() }

// Generation returns the number of sets published so far.
func (r *Registry) Generation() uint64 { return r.generation.Load() }

// Load instantiates the named plugins without publishing them. A plugin
// that fails to load, including by panicking, is logged and skipped.
func (r *Registry) Load(ctx context.Context, names []string) (*Set, LoadReport) {
	prefix := r.Prefix()
	set := &Set{Prefix: prefix}
	report := LoadReport{Requested: len(names), Failed: make(map[string]error)}
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			r.logger.Warn("duplicate plugin name, skipping", "name", name)
			continue
		}
		seen[name] = true

		p, source, err := r.open(ctx, name)
		if err != nil {
			report.Failed[name] = err
			r.logger.Error("plugin failed to load", "name", name, "error", err)
			continue
		}
		d := newDescriptor(name, source, p, prefix, r.logger)
		set.Plugins = append(set.Plugins, d)
		report.Loaded = append(report.Loaded, name)
		r.logger.Info("plugin loaded", "name", name, "source", source,
			"capabilities", d.Capabilities.String(), "triggers", len(d.Triggers))
	}

	r.logger.Info("plugins loaded", "loaded", len(report.Loaded), "requested", report.Requested)
	return set, report
}

func (r *Registry) open(ctx context.Context, name string) (p Plugin, source string, err error) {
	for _, src := range r.sources {
		p, err = safeOpen(ctx, src, name, r.host)
		if errors.Is(err, ErrUnknownPlugin) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", src.Name(), err)
		}
		if p == nil {
			return nil, "", fmt.Errorf("%s: factory returned nil plugin", src.Name())
		}
		return p, src.Name(), nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
}

func safeOpen(ctx context.Context, src Source, name string, host Host) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("panic while loading: %v", rec)
		}
	}()
	return src.Open(ctx, name, host)
}

// Reload loads the named plugins and atomically replaces the active set.
// Plugins of the replaced set implementing Closer are closed after the swap.
func (r *Registry) Reload(ctx context.Context, names []string) LoadReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, report := r.Load(ctx, names)
	set.Generation = r.generation.Add(1)
	old := r.active.Swap(set)
	r.closeSet(old)
	return report
}

// Close unloads every plugin and leaves an empty active set.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.active.Swap(&Set{Prefix: r.Prefix(), Generation: r.generation.Add(1)})
	return r.closeSet(old)
}

func (r *Registry) closeSet(set *Set) error {
	if set == nil {
		return nil
	}
	var errs []error
	for _, d := range set.Plugins {
		c, ok := d.Plugin.(Closer)
		if !ok {
			continue
		}
		if err := safeClose(c); err != nil {
			r.logger.Warn("plugin close failed", "name", d.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

func safeClose(c Closer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while closing: %v", rec)
		}
	}()
	return c.Close()
}
