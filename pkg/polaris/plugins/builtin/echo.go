package builtin

import (
	"context"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

func init() {
	plugins.Register("echo", func(host plugins.Host) (plugins.Plugin, error) {
		return &Echo{host: host}, nil
	})
}

// Echo repeats the text after /echo. As an inline query it offers the
// text as a single result.
type Echo struct {
	host plugins.Host
}

func (e *Echo) Name() string        { return "echo" }
func (e *Echo) Description() string { return "Repeats what you say." }

func (e *Echo) Commands() []plugins.Command {
	return []plugins.Command{{
		Pattern:     "/echo",
		Parameters:  []plugins.Parameter{{Name: "text", Required: true}},
		Description: "Repeats the text",
	}}
}

func (e *Echo) Run(ctx context.Context, msg *channels.Message, match plugins.Match) error {
	input := plugins.Input(msg.Content)
	if input == "" {
		return e.host.Reply(msg, "Usage: "+match.Command.Usage(e.host.Prefix()))
	}
	return e.host.Reply(msg, input)
}

func (e *Echo) Inline(ctx context.Context, msg *channels.Message, _ plugins.Match) error {
	input := plugins.Input(msg.Content)
	if input == "" {
		return nil
	}
	return e.host.Reply(msg, input, plugins.WithExtra("inline_results", []map[string]any{{
		"type":                  "article",
		"id":                    "echo",
		"title":                 input,
		"description":           "Send this text",
		"input_message_content": map[string]any{"message_text": input},
	}}))
}
