package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

// Outcome describes what happened to one inbound message.
type Outcome struct {
	// Stale is set when the message was dropped for its age.
	Stale bool

	// Processed lists the plugins whose process hook ran.
	Processed []string

	// Fired lists the commands that ran, in registry order.
	Fired []Firing

	// Errors holds the hook failures, already reported.
	Errors []*HookError
}

// Firing is one plugin command invocation.
type Firing struct {
	Plugin  string
	Command plugins.Command
	Inline  bool
}

// Dispatcher routes one inbound message through the active plugin set.
type Dispatcher struct {
	registry  *plugins.Registry
	hooks     *hookRunner
	staleness time.Duration
	now       func() time.Time
	stats     *Stats
	logger    *slog.Logger
}

// Dispatch drops stale messages, runs every process hook in registry
// order, then for each plugin runs the first matching command. Hook
// failures are isolated per invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *channels.Message) Outcome {
	if age := d.now().Sub(msg.Date); age > d.staleness {
		d.stats.DroppedStale.Add(1)
		d.logger.Debug("dropping stale message",
			"id", msg.ID, "conversation", msg.Conversation.ID, "age", age.Round(time.Millisecond))
		return Outcome{Stale: true}
	}
	d.stats.Dispatched.Add(1)

	d.logger.Debug("message received",
		"conversation", msg.Conversation.Name(),
		"sender", msg.Sender.DisplayName(),
		"type", msg.Type,
		"content", msg.Content)

	// One snapshot for the whole message: a concurrent reload is seen
	// either entirely or not at all.
	set := d.registry.Active()
	var out Outcome

	for _, p := range set.Plugins {
		if p.Processor == nil {
			continue
		}
		out.Processed = append(out.Processed, p.Name)
		if herr := d.hooks.invoke(ctx, p.Name, HookProcess, msg, func(ctx context.Context) error {
			return p.Processor.Process(ctx, msg)
		}); herr != nil {
			out.Errors = append(out.Errors, herr)
		}
	}

	inline := msg.Type == channels.MessageInlineQuery
	for _, p := range set.Plugins {
		if p.Runner == nil {
			continue
		}
		match, ok := p.Match(msg.Content)
		if !ok {
			continue
		}

		var herr *HookError
		switch {
		case inline && p.Inline != nil:
			out.Fired = append(out.Fired, Firing{Plugin: p.Name, Command: match.Command, Inline: true})
			herr = d.hooks.invoke(ctx, p.Name, HookInline, msg, func(ctx context.Context) error {
				return p.Inline.Inline(ctx, msg, match)
			})
		case inline:
			continue
		default:
			out.Fired = append(out.Fired, Firing{Plugin: p.Name, Command: match.Command})
			herr = d.hooks.invoke(ctx, p.Name, HookRun, msg, func(ctx context.Context) error {
				return p.Runner.Run(ctx, msg, match)
			})
		}
		d.stats.Commands.Add(1)
		if herr != nil {
			out.Errors = append(out.Errors, herr)
		}
	}
	return out
}
