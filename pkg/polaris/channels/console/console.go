// Package console implements a terminal transport for running Polaris
// locally. Each input line becomes a direct message from the local user;
// lines of the form "@<bot username> <query>" become inline queries.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// ConversationID is the single conversation of the console transport.
const ConversationID = "console"

// Config holds console channel configuration.
type Config struct {
	// Prompt is shown before each input line.
	Prompt string `yaml:"prompt"`

	// HistoryFile persists input history between runs. Empty disables it.
	HistoryFile string `yaml:"history_file"`

	// BotName is the identity reported by Me.
	BotName string `yaml:"bot_name"`
}

// lineReader is the subset of *readline.Instance the console needs.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements channels.Channel over stdin and stdout.
type Console struct {
	cfg    Config
	logger *slog.Logger
	user   channels.User

	reader lineReader
	out    io.Writer
	outMu  sync.Mutex

	messages  chan *channels.Message
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.BotName == "" {
		cfg.BotName = "polaris"
	}
	name := os.Getenv("USER")
	if name == "" {
		name = "user"
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		user:     channels.User{ID: "local", FirstName: name, Username: name},
		messages: make(chan *channels.Message, 256),
		done:     make(chan struct{}),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the terminal and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	if c.reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.cfg.Prompt,
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("%w: %w", channels.ErrConnectionFailed, err)
		}
		c.reader = rl
		c.out = rl.Stdout()
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.connected.Store(true)
	go c.readLoop()
	return nil
}

// Disconnect closes the terminal and the inbound stream.
func (c *Console) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := c.reader.Close()
	<-c.done
	c.connected.Store(false)
	return err
}

// Me returns the bot identity.
func (c *Console) Me(ctx context.Context) (*channels.User, error) {
	return &channels.User{ID: "bot", FirstName: c.cfg.BotName, Username: c.cfg.BotName}, nil
}

// Receive returns the inbound message stream.
func (c *Console) Receive() <-chan *channels.Message { return c.messages }

// IsConnected returns true while the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

// Send prints a message to the terminal.
func (c *Console) Send(ctx context.Context, msg *channels.Message) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	var b strings.Builder
	b.WriteString(msg.Sender.DisplayName())
	switch msg.Type {
	case channels.MessageText, "":
	default:
		b.WriteString(" [" + string(msg.Type) + "]")
	}
	b.WriteString(": ")
	b.WriteString(msg.Content)
	b.WriteByte('\n')

	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

func (c *Console) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		line, err := c.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				c.logger.Warn("console: read failed", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		c.lastMsg.Store(time.Now())
		select {
		case c.messages <- c.newMessage(line):
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Console) newMessage(line string) *channels.Message {
	msg := &channels.Message{
		ID:           strconv.FormatInt(c.seq.Add(1), 10),
		Conversation: channels.Conversation{ID: ConversationID},
		Sender:       c.user,
		Content:      line,
		Type:         channels.MessageText,
		Date:         time.Now(),
	}
	mention := "@" + c.cfg.BotName
	if line == mention || strings.HasPrefix(line, mention+" ") {
		msg.Type = channels.MessageInlineQuery
		msg.Content = strings.TrimSpace(strings.TrimPrefix(line, mention))
	}
	return msg
}

var _ channels.Channel = (*Console)(nil)
