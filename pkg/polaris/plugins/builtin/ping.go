package builtin

import (
	"context"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

func init() {
	plugins.Register("ping", func(host plugins.Host) (plugins.Plugin, error) {
		return &Ping{host: host}, nil
	})
}

// Ping answers /ping with pong.
type Ping struct {
	host plugins.Host
}

func (p *Ping) Name() string        { return "ping" }
func (p *Ping) Description() string { return "Checks that the bot is alive." }

func (p *Ping) Commands() []plugins.Command {
	return []plugins.Command{{Pattern: "/ping$", Description: "Replies with pong"}}
}

func (p *Ping) Run(ctx context.Context, msg *channels.Message, _ plugins.Match) error {
	return p.host.Reply(msg, "pong")
}
