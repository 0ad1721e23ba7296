package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

func init() {
	plugins.Register("help", func(host plugins.Host) (plugins.Plugin, error) {
		return &Help{host: host}, nil
	})
}

// Help lists the visible commands of the active plugins.
type Help struct {
	host plugins.Host
}

func (h *Help) Name() string        { return "help" }
func (h *Help) Description() string { return "Shows the available commands." }

func (h *Help) Commands() []plugins.Command {
	return []plugins.Command{
		{
			Pattern:     "/help",
			Parameters:  []plugins.Parameter{{Name: "plugin", Required: false}},
			Description: "Lists commands, or details one plugin",
		},
		{Pattern: "/start$", Hidden: true},
	}
}

func (h *Help) Run(ctx context.Context, msg *channels.Message, _ plugins.Match) error {
	prefix := h.host.Prefix()
	query := strings.TrimPrefix(strings.ToLower(plugins.Input(msg.Content)), prefix)

	if query == "" {
		return h.host.Reply(msg, h.overview(prefix))
	}

	for _, d := range h.host.Plugins() {
		if d.Name == query || h.hasCommand(d, prefix, query) {
			return h.host.Reply(msg, h.detail(d, prefix))
		}
	}
	return h.host.Reply(msg, fmt.Sprintf("No plugin or command named %q.", query))
}

func (h *Help) overview(prefix string) string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, d := range h.host.Plugins() {
		for _, cmd := range d.Commands() {
			if cmd.Hidden {
				continue
			}
			b.WriteString("\n• " + cmd.Usage(prefix))
			if cmd.Description != "" {
				b.WriteString(" - " + cmd.Description)
			}
		}
	}
	fmt.Fprintf(&b, "\n\nUse %shelp <plugin> for details.", prefix)
	return b.String()
}

func (h *Help) detail(d *plugins.Descriptor, prefix string) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Description != "" {
		b.WriteString(": " + d.Description)
	}
	for _, cmd := range d.Commands() {
		if cmd.Hidden {
			continue
		}
		b.WriteString("\n• " + cmd.Usage(prefix))
		if cmd.Description != "" {
			b.WriteString(" - " + cmd.Description)
		}
	}
	return b.String()
}

func (h *Help) hasCommand(d *plugins.Descriptor, prefix, name string) bool {
	for _, cmd := range d.Commands() {
		if cmd.Hidden {
			continue
		}
		if plugins.FirstWord(cmd.Usage(prefix)) == prefix+name {
			return true
		}
	}
	return false
}
