// Package bot is the Polaris runtime: it connects a transport, feeds inbound
// messages through the plugin dispatcher, runs periodic plugin hooks and
// delivers outbound replies.
//
// Three workers run while the bot is up:
//   - the listener moves transport messages into the inbox;
//   - the main loop dispatches inbox messages and ticks the cron scheduler;
//   - the delivery worker drains the outbox into the transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/queue"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// DefaultStaleness is the maximum age of a message that is still dispatched.
const DefaultStaleness = 10 * time.Second

// Config configures the runtime.
type Config struct {
	// Prefix replaces the "/" placeholder in command patterns.
	Prefix string

	// Plugins lists the plugins to load, in dispatch order.
	Plugins []string

	// Staleness drops inbound messages older than this.
	Staleness time.Duration

	// CronSchedule is a duration, "@every" descriptor or cron expression.
	CronSchedule string

	// HookTimeout bounds each plugin hook when positive. Zero waits for
	// hooks indefinitely.
	HookTimeout time.Duration

	// AdminConversation, when set, receives a notice for every hook
	// failure.
	AdminConversation string
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "/"
	}
	if c.Staleness <= 0 {
		c.Staleness = DefaultStaleness
	}
	if c.CronSchedule == "" {
		c.CronSchedule = DefaultCronSchedule
	}
}

// State is the lifecycle state of a Bot.
type State int32

const (
	StateUnstarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Option customizes a Bot.
type Option func(*Bot)

// WithSources sets the plugin sources. The default is the built-in
// factories only.
func WithSources(sources ...plugins.Source) Option {
	return func(b *Bot) { b.sources = sources }
}

// WithErrorReporter replaces the default log reporter.
func WithErrorReporter(r ErrorReporter) Option {
	return func(b *Bot) { b.reporter = r }
}

// WithClock sets the time source used for staleness and cron.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// Bot owns the plugin registry, the inbox and outbox queues and the workers
// connecting them to a transport.
type Bot struct {
	cfg      Config
	channel  channels.Channel
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
	sources  []plugins.Source
	reporter ErrorReporter

	registry   *plugins.Registry
	inbox      *queue.Queue[*channels.Message]
	outbox     *queue.Queue[*channels.Message]
	dispatcher *Dispatcher
	cron       *Cron
	stats      Stats

	me atomic.Pointer[channels.User]

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	reloadMu sync.Mutex
	unloaded bool
}

// New creates a bot bound to a transport and a store.
func New(cfg Config, ch channels.Channel, st store.Store, logger *slog.Logger, opts ...Option) (*Bot, error) {
	if ch == nil {
		return nil, errors.New("bot: nil channel")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NewMemory()
	}
	cfg.defaults()

	schedule, err := ParseSchedule(cfg.CronSchedule)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg:     cfg,
		channel: ch,
		store:   st,
		logger:  logger.With("component", "bot"),
		now:     time.Now,
		sources: []plugins.Source{plugins.Builtin()},
		inbox:   queue.New[*channels.Message](),
		outbox:  queue.New[*channels.Message](),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.reporter == nil {
		b.reporter = LogReporter{Logger: logger.With("component", "plugins")}
	}
	if cfg.AdminConversation != "" {
		b.reporter = &adminReporter{next: b.reporter, bot: b, conversation: cfg.AdminConversation}
	}

	b.registry = plugins.NewRegistry(b, cfg.Prefix, logger, b.sources...)
	hooks := &hookRunner{timeout: cfg.HookTimeout, reporter: b.reporter, stats: &b.stats}
	b.dispatcher = &Dispatcher{
		registry:  b.registry,
		hooks:     hooks,
		staleness: cfg.Staleness,
		now:       b.now,
		stats:     &b.stats,
		logger:    logger.With("component", "dispatcher"),
	}
	b.cron = newCron(schedule, b.registry, hooks, b.now, &b.stats, logger.With("component", "cron"))
	return b, nil
}

// Run connects the transport, loads the configured plugins if none are
// loaded yet and runs the workers until Stop is called or ctx is done.
// A transport or identity failure at startup is returned as an error. Run
// returns after every worker has exited.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if state := b.state; state != StateUnstarted {
		b.mu.Unlock()
		if state == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	b.state = StateRunning
	b.cancel = cancel
	b.mu.Unlock()
	defer b.Stop()

	if err := b.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", b.channel.Name(), err)
	}
	defer func() {
		if err := b.channel.Disconnect(); err != nil {
			b.logger.Warn("disconnect failed", "channel", b.channel.Name(), "error", err)
		}
	}()

	me, err := b.channel.Me(ctx)
	if err != nil {
		return fmt.Errorf("retrieve bot identity: %w", err)
	}
	b.me.Store(me)
	b.logger.Info("account connected",
		"channel", b.channel.Name(), "id", me.ID, "name", me.DisplayName(), "username", me.Username)

	if b.registry.Generation() == 0 {
		b.registry.Reload(ctx, b.cfg.Plugins)
	}
	defer b.unload()

	b.cron.reset(b.now())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.listen(gctx) })
	g.Go(func() error { return b.deliver(gctx) })
	g.Go(func() error { return b.loop(gctx) })

	err = g.Wait()
	b.logger.Info("bot halted")
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

// Stop ends a running bot. It is safe to call more than once and from any
// goroutine; workers exit at their next blocking receive.
func (b *Bot) Stop() {
	b.mu.Lock()
	prev := b.state
	b.state = StateStopped
	cancel := b.cancel
	b.mu.Unlock()

	if prev == StateStopped {
		return
	}
	if cancel != nil {
		cancel()
	}
	b.inbox.Close()
	b.outbox.Close()
}

// State returns the lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Running reports whether the bot is running.
func (b *Bot) Running() bool { return b.State() == StateRunning }

// listen moves inbound transport messages into the inbox. A closed
// transport stream stops the bot.
func (b *Bot) listen(ctx context.Context) error {
	in := b.channel.Receive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				b.logger.Info("inbound stream closed", "channel", b.channel.Name())
				b.Stop()
				return nil
			}
			if msg == nil {
				continue
			}
			b.stats.Received.Add(1)
			if err := b.inbox.Push(msg); err != nil {
				return err
			}
		}
	}
}

// loop is the main scheduling loop: it ticks cron when due and otherwise
// waits on the inbox until the next cron due time.
func (b *Bot) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := b.now()
		if b.cron.Due(now) {
			b.cron.Tick(ctx)
			continue
		}

		wait := b.cron.Next().Sub(now)
		pctx, cancel := context.WithTimeout(ctx, wait)
		msg, err := b.inbox.Pop(pctx)
		cancel()

		switch {
		case err == nil:
			b.dispatcher.Dispatch(ctx, msg)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		default:
			return err
		}
	}
}

// Dispatch runs one message through the active plugins synchronously.
func (b *Bot) Dispatch(ctx context.Context, msg *channels.Message) Outcome {
	return b.dispatcher.Dispatch(ctx, msg)
}

// TickCron runs the periodic hooks now.
func (b *Bot) TickCron(ctx context.Context) []*HookError {
	return b.cron.Tick(ctx)
}

// Reload replaces the active plugin set. An empty prefix keeps the current
// one.
func (b *Bot) Reload(ctx context.Context, names []string, prefix string) (plugins.LoadReport, error) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	if b.unloaded {
		return plugins.LoadReport{}, ErrStopped
	}
	if prefix != "" {
		b.registry.SetPrefix(prefix)
	}
	return b.registry.Reload(ctx, names), nil
}

// unload closes the active plugin set when Run exits. Reloads after this
// fail with ErrStopped.
func (b *Bot) unload() {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	b.unloaded = true
	_ = b.registry.Close()
}

// Registry returns the plugin registry.
func (b *Bot) Registry() *plugins.Registry { return b.registry }

// Stats returns a snapshot of the runtime counters.
func (b *Bot) Stats() StatsSnapshot { return b.stats.Snapshot() }

// Pending returns the number of queued inbound and outbound messages.
func (b *Bot) Pending() (inbox, outbox int) { return b.inbox.Len(), b.outbox.Len() }

// Plugin host API.

// Send queues an outbound message.
func (b *Bot) Send(msg *channels.Message) error {
	if err := b.outbox.Push(msg); err != nil {
		return fmt.Errorf("queue outbound message: %w", err)
	}
	return nil
}

// Reply queues content to the conversation of to.
func (b *Bot) Reply(to *channels.Message, content string, opts ...plugins.ReplyOption) error {
	return b.Send(plugins.NewReply(b.Me(), to, content, opts...))
}

// Enqueue pushes a message to the inbox as if the transport delivered it.
func (b *Bot) Enqueue(msg *channels.Message) error {
	if err := b.inbox.Push(msg); err != nil {
		return fmt.Errorf("queue inbound message: %w", err)
	}
	return nil
}

// Me returns the bot identity, zero before Run retrieved it.
func (b *Bot) Me() channels.User {
	if me := b.me.Load(); me != nil {
		return *me
	}
	return channels.User{}
}

func (b *Bot) Prefix() string       { return b.registry.Prefix() }
func (b *Bot) Store() store.Store   { return b.store }
func (b *Bot) Logger() *slog.Logger { return b.logger }

// Plugins returns the descriptors of the active plugins.
func (b *Bot) Plugins() []*plugins.Descriptor { return b.registry.Active().Plugins }

var _ plugins.Host = (*Bot)(nil)
