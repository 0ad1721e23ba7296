package plugins

import "strings"

// Capabilities is the set of optional hooks a plugin supports.
type Capabilities uint8

const (
	// ProcessesAll: the plugin's Process hook sees every fresh message.
	ProcessesAll Capabilities = 1 << iota
	// HasCommands: the plugin declares triggers and can Run them.
	HasCommands
	// IsPeriodic: the plugin's Cron hook runs on every scheduler tick.
	IsPeriodic
	// SupportsInline: matched inline queries go to the Inline hook.
	SupportsInline
)

// Has reports whether every capability in c is set.
func (caps Capabilities) Has(c Capabilities) bool { return caps&c == c }

func (caps Capabilities) String() string {
	var names []string
	if caps.Has(ProcessesAll) {
		names = append(names, "process")
	}
	if caps.Has(HasCommands) {
		names = append(names, "commands")
	}
	if caps.Has(IsPeriodic) {
		names = append(names, "cron")
	}
	if caps.Has(SupportsInline) {
		names = append(names, "inline")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// CapabilitiesOf inspects p once and returns the hooks it supports. A plugin
// with no capabilities is inert but valid.
func CapabilitiesOf(p Plugin) Capabilities {
	var caps Capabilities
	if _, ok := p.(Processor); ok {
		caps |= ProcessesAll
	}
	_, static := p.(Commander)
	_, dynamic := p.(DynamicCommander)
	if _, ok := p.(Runner); ok && (static || dynamic) {
		caps |= HasCommands
	}
	if _, ok := p.(Periodic); ok {
		caps |= IsPeriodic
	}
	if _, ok := p.(InlineHandler); ok {
		caps |= SupportsInline
	}
	if r, ok := p.(CapabilityReporter); ok {
		caps &= r.Capabilities()
	}
	return caps
}
