package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// ErrClosed is returned by hooks of a closed script plugin.
var ErrClosed = errors.New("lua plugin closed")

// Plugin is a plugin backed by a Lua script. gopher-lua states are not
// goroutine-safe, so every call holds mu.
type Plugin struct {
	name    string
	host    plugins.Host
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	L       *lua.LState
	closed  bool
	current *channels.Message

	commands    []plugins.Command
	description string
	caps        plugins.Capabilities
}

// New loads a script and reads its declarations.
func New(name, code string, host plugins.Host, timeout time.Duration) (*Plugin, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	L, err := newSandbox()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	if host != nil && host.Logger() != nil {
		logger = host.Logger()
	}
	p := &Plugin{
		name:    name,
		host:    host,
		logger:  logger.With("plugin", name, "runtime", "lua"),
		timeout: timeout,
		L:       L,
	}
	p.installAPI()

	if err := protect(context.Background(), L, timeout, func() error { return L.DoString(code) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}

	p.commands, err = readCommands(L.GetGlobal("commands"))
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	p.description = lua.LVAsString(L.GetGlobal("description"))

	if isFunction(L, "process") {
		p.caps |= plugins.ProcessesAll
	}
	if isFunction(L, "run") {
		p.caps |= plugins.HasCommands
	}
	if isFunction(L, "cron") {
		p.caps |= plugins.IsPeriodic
	}
	if isFunction(L, "inline") {
		p.caps |= plugins.SupportsInline
	}
	return p, nil
}

func (p *Plugin) Name() string                       { return p.name }
func (p *Plugin) Description() string                { return p.description }
func (p *Plugin) Commands() []plugins.Command        { return p.commands }
func (p *Plugin) Capabilities() plugins.Capabilities { return p.caps }

func (p *Plugin) Process(ctx context.Context, msg *channels.Message) error {
	return p.call(ctx, msg, "process", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{messageTable(L, msg, true)}
	})
}

func (p *Plugin) Run(ctx context.Context, msg *channels.Message, m plugins.Match) error {
	return p.call(ctx, msg, "run", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{messageTable(L, msg, true), matchTable(L, m)}
	})
}

func (p *Plugin) Inline(ctx context.Context, msg *channels.Message, m plugins.Match) error {
	return p.call(ctx, msg, "inline", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{messageTable(L, msg, true), matchTable(L, m)}
	})
}

func (p *Plugin) Cron(ctx context.Context) error {
	return p.call(ctx, nil, "cron", nil)
}

// Close releases the Lua state.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.L.Close()
	}
	return nil
}

func (p *Plugin) call(ctx context.Context, msg *channels.Message, fn string, args func(*lua.LState) []lua.LValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	f := p.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil
	}

	p.current = msg
	defer func() { p.current = nil }()

	var argv []lua.LValue
	if args != nil {
		argv = args(p.L)
	}
	err := protect(ctx, p.L, p.timeout, func() error {
		return p.L.CallByParam(lua.P{Fn: f, NRet: 0, Protect: true}, argv...)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	return nil
}

// installAPI registers the polaris module and a print that logs.
func (p *Plugin) installAPI() {
	mod := p.L.SetFuncs(p.L.NewTable(), map[string]lua.LGFunction{
		"reply":  p.luaReply,
		"send":   p.luaSend,
		"prefix": p.luaPrefix,
		"me":     p.luaMe,
		"log":    p.luaLog,
		"load":   p.luaLoad,
		"save":   p.luaSave,
	})
	p.L.SetGlobal("polaris", mod)
	p.L.SetGlobal("print", p.L.NewFunction(p.luaLog))
}

// polaris.reply(text [, format])
func (p *Plugin) luaReply(L *lua.LState) int {
	text := L.CheckString(1)
	format := L.OptString(2, "")
	if p.current == nil {
		L.RaiseError("reply called outside a message hook")
		return 0
	}
	var opts []plugins.ReplyOption
	if format != "" {
		opts = append(opts, plugins.WithFormat(format))
	}
	if err := p.host.Reply(p.current, text, opts...); err != nil {
		L.RaiseError("reply: %s", err.Error())
	}
	return 0
}

// polaris.send(conversation_id, text [, format])
func (p *Plugin) luaSend(L *lua.LState) int {
	conv := L.CheckString(1)
	text := L.CheckString(2)
	format := L.OptString(3, "")
	msg := channels.NewMessage(channels.Conversation{ID: conv}, p.host.Me(), text, channels.MessageText)
	if format != "" {
		plugins.WithFormat(format)(msg)
	}
	if err := p.host.Send(msg); err != nil {
		L.RaiseError("send: %s", err.Error())
	}
	return 0
}

func (p *Plugin) luaPrefix(L *lua.LState) int {
	L.Push(lua.LString(p.host.Prefix()))
	return 1
}

func (p *Plugin) luaMe(L *lua.LState) int {
	L.Push(userTable(L, p.host.Me()))
	return 1
}

func (p *Plugin) luaLog(L *lua.LState) int {
	parts := make([]any, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	p.logger.Info(fmt.Sprint(parts...))
	return 0
}

func (p *Plugin) storeKey(key string) string {
	return "scripts/" + p.name + "/" + key
}

// polaris.load(key) returns the stored table, empty when missing.
func (p *Plugin) luaLoad(L *lua.LState) int {
	key := L.CheckString(1)
	data, err := p.host.Store().Load(L.Context(), p.storeKey(key))
	if err != nil {
		L.RaiseError("load %s: %s", key, err.Error())
		return 0
	}
	L.Push(toLua(L, map[string]any(data)))
	return 1
}

// polaris.save(key, table)
func (p *Plugin) luaSave(L *lua.LState) int {
	key := L.CheckString(1)
	tbl := L.CheckTable(2)
	v, err := fromLua(tbl)
	if err != nil {
		L.RaiseError("save %s: %s", key, err.Error())
		return 0
	}
	data, ok := v.(map[string]any)
	if !ok {
		// Array tables are stored under a single field.
		data = map[string]any{"items": v}
	}
	if err := p.host.Store().Save(L.Context(), p.storeKey(key), store.Data(data)); err != nil {
		L.RaiseError("save %s: %s", key, err.Error())
	}
	return 0
}

var (
	_ plugins.Processor          = (*Plugin)(nil)
	_ plugins.Runner             = (*Plugin)(nil)
	_ plugins.InlineHandler      = (*Plugin)(nil)
	_ plugins.Periodic           = (*Plugin)(nil)
	_ plugins.Commander          = (*Plugin)(nil)
	_ plugins.CapabilityReporter = (*Plugin)(nil)
	_ plugins.Closer             = (*Plugin)(nil)
)
