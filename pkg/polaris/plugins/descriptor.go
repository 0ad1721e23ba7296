package plugins

import "log/slog"

// Descriptor is a loaded plugin with its hooks and triggers resolved.
// Descriptors are immutable once published in a Set.
type Descriptor struct {
	Name         string
	Source       string
	Plugin       Plugin
	Capabilities Capabilities
	Description  string

	// Triggers are the compiled static commands, in declaration order.
	Triggers []*Trigger

	// Hooks. A nil hook is not supported by the plugin.
	Processor Processor
	Runner    Runner
	Inline    InlineHandler
	Periodic  Periodic

	dynamic DynamicCommander
	cache   *triggerCache
	logger  *slog.Logger
}

func newDescriptor(name, source string, p Plugin, prefix string, logger *slog.Logger) *Descriptor {
	caps := CapabilitiesOf(p)
	d := &Descriptor{
		Name:         name,
		Source:       source,
		Plugin:       p,
		Capabilities: caps,
		cache:        &triggerCache{prefix: prefix},
		logger:       logger.With("plugin", name),
	}
	if desc, ok := p.(Describer); ok {
		d.Description = desc.Description()
	}
	if caps.Has(ProcessesAll) {
		d.Processor = p.(Processor)
	}
	if caps.Has(IsPeriodic) {
		d.Periodic = p.(Periodic)
	}
	if caps.Has(SupportsInline) {
		d.Inline = p.(InlineHandler)
	}

	cmdr, declares := p.(Commander)
	dyn, isDynamic := p.(DynamicCommander)
	switch {
	case caps.Has(HasCommands):
		d.Runner = p.(Runner)
		if declares {
			for _, cmd := range cmdr.Commands() {
				t, err := d.cache.compile(cmd)
				if err != nil {
					d.logger.Error("skipping invalid trigger", "pattern", cmd.Pattern, "error", err)
					continue
				}
				d.Triggers = append(d.Triggers, t)
			}
		}
		if isDynamic {
			d.dynamic = dyn
		}
	case declares && len(cmdr.Commands()) > 0, isDynamic:
		d.logger.Error("plugin declares commands but has no run hook; its commands are never matched")
	}
	return d
}

// Match returns the first command of the plugin matching content: static
// triggers first, then dynamic ones.
func (d *Descriptor) Match(content string) (Match, bool) {
	if m, ok := FirstMatch(d.Triggers, content); ok {
		return m, true
	}
	if d.dynamic == nil {
		return Match{}, false
	}
	for _, cmd := range d.dynamic.DynamicCommands() {
		t, err := d.cache.compile(cmd)
		if err != nil {
			d.logger.Warn("skipping invalid dynamic trigger", "pattern", cmd.Pattern, "error", err)
			continue
		}
		if groups, ok := t.Match(content); ok {
			return Match{Command: cmd, Groups: groups, Dynamic: true}, true
		}
	}
	return Match{}, false
}

// Commands returns the static and dynamic commands of the plugin.
func (d *Descriptor) Commands() []Command {
	cmds := make([]Command, 0, len(d.Triggers))
	for _, t := range d.Triggers {
		cmds = append(cmds, t.Command)
	}
	if d.dynamic != nil {
		cmds = append(cmds, d.dynamic.DynamicCommands()...)
	}
	return cmds
}

// Set is an immutable snapshot of the active plugins, in load order.
type Set struct {
	Generation uint64
	Prefix     string
	Plugins    []*Descriptor
}

// Lookup returns the descriptor with the given name.
func (s *Set) Lookup(name string) (*Descriptor, bool) {
	if s == nil {
		return nil, false
	}
	for _, d := range s.Plugins {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Len returns the number of plugins in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Plugins)
}
