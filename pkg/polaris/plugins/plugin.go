// Package plugins implements the Polaris plugin system: the plugin
// contract with its optional capability hooks, the trigger matcher, the
// sources plugins are loaded from (built-in factories, Go native .so files,
// Lua scripts) and the registry holding the active plugin set.
//
// A plugin only has to implement Plugin. Every other behavior is opt-in by
// implementing one of the hook interfaces below; hooks are resolved once
// when the plugin is loaded.
package plugins

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// Plugin is the base interface every plugin implements.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
}

// Processor is implemented by plugins that inspect every fresh message
// before command matching.
type Processor interface {
	Process(ctx context.Context, msg *channels.Message) error
}

// Commander is implemented by plugins that declare command triggers.
// Commands are read once at load time.
type Commander interface {
	Commands() []Command
}

// DynamicCommander is implemented by plugins whose triggers change at
// runtime. DynamicCommands is consulted on every dispatch, after the static
// commands.
type DynamicCommander interface {
	DynamicCommands() []Command
}

// Runner handles a matched command.
type Runner interface {
	Run(ctx context.Context, msg *channels.Message, match Match) error
}

// InlineHandler handles a matched inline query.
type InlineHandler interface {
	Inline(ctx context.Context, msg *channels.Message, match Match) error
}

// Periodic is implemented by plugins with scheduled work.
type Periodic interface {
	Cron(ctx context.Context) error
}

// Describer provides the help text shown by the help plugin.
type Describer interface {
	Description() string
}

// Closer releases plugin resources when the plugin is unloaded.
type Closer interface {
	Close() error
}

// CapabilityReporter lets a plugin narrow the capabilities detected from its
// type. Script plugins implement every hook interface but only support the
// hooks their script defines.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// Command is one trigger declared by a plugin.
type Command struct {
	// Pattern is a regular expression. A "/" is replaced by "^" followed by
	// the configured command prefix.
	Pattern string `json:"pattern"`

	// Parameters documents the arguments the command accepts.
	Parameters []Parameter `json:"parameters,omitempty"`

	// Description is shown by the help plugin.
	Description string `json:"description,omitempty"`

	// Hidden commands are matched but not listed in help.
	Hidden bool `json:"hidden,omitempty"`
}

// Parameter documents one command argument.
type Parameter struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// TakesParameter reports whether the command accepts free-text input.
func (c Command) TakesParameter() bool { return len(c.Parameters) > 0 }

// Usage renders the command with the prefix applied and its parameters.
func (c Command) Usage(prefix string) string {
	var b strings.Builder
	name := strings.ReplaceAll(strings.TrimPrefix(c.Pattern, "^"), "/", prefix)
	b.WriteString(strings.TrimSuffix(strings.TrimSuffix(name, "$"), `\b`))
	for _, p := range c.Parameters {
		if p.Required {
			b.WriteString(" <" + p.Name + ">")
		} else {
			b.WriteString(" [" + p.Name + "]")
		}
	}
	return b.String()
}

// Match describes which command of a plugin matched a message.
type Match struct {
	Command Command

	// Groups holds the regular expression submatches; Groups[0] is the
	// whole match.
	Groups []string

	// Dynamic is set when the command came from DynamicCommands.
	Dynamic bool
}

// Host is the bot API available to plugins.
type Host interface {
	// Send queues an outbound message for delivery.
	Send(msg *channels.Message) error

	// Reply queues a message to the conversation of to.
	Reply(to *channels.Message, content string, opts ...ReplyOption) error

	// Enqueue pushes a message to the inbox as if it had been received.
	Enqueue(msg *channels.Message) error

	// Me returns the bot identity.
	Me() channels.User

	// Prefix returns the configured command prefix.
	Prefix() string

	// Store returns the persistent store.
	Store() store.Store

	// Plugins returns the descriptors of the active plugin set.
	Plugins() []*Descriptor

	// Logger returns a logger scoped to the caller.
	Logger() *slog.Logger
}

// ReplyOption customizes an outbound reply.
type ReplyOption func(*channels.Message)

// WithFormat sets the text format hint (e.g. "HTML", "Markdown").
func WithFormat(format string) ReplyOption {
	return WithExtra("format", format)
}

// WithType sets the outbound message type.
func WithType(t channels.MessageType) ReplyOption {
	return func(m *channels.Message) { m.Type = t }
}

// WithReplyTo makes the reply quote the given message.
func WithReplyTo(msg *channels.Message) ReplyOption {
	return func(m *channels.Message) { m.Reply = msg }
}

// WithExtra sets a transport metadata value.
func WithExtra(key string, value any) ReplyOption {
	return func(m *channels.Message) {
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[key] = value
	}
}

// NewReply builds an outbound message from me to the conversation of to.
func NewReply(me channels.User, to *channels.Message, content string, opts ...ReplyOption) *channels.Message {
	msg := channels.NewMessage(to.Conversation, me, content, channels.MessageText)
	if to.Type == channels.MessageInlineQuery {
		// Inline answers go back to the query they answer.
		msg.Type = channels.MessageInlineQuery
		msg.Reply = to
	}
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}

// Input returns the text after the first word of content, or "".
func Input(content string) string {
	content = strings.TrimSpace(content)
	i := strings.IndexAny(content, " \n\t")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(content[i+1:])
}

// FirstWord returns the first whitespace-delimited word of s.
func FirstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
