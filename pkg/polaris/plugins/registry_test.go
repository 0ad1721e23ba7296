package plugins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type basic struct{ name string }

func (b *basic) Name() string { return b.name }

type commandPlugin struct {
	basic
	cmds   []Command
	closed atomic.Bool
}

func (c *commandPlugin) Commands() []Command { return c.cmds }
func (c *commandPlugin) Run(ctx context.Context, msg *channels.Message, m Match) error {
	return nil
}
func (c *commandPlugin) Close() error { c.closed.Store(true); return nil }

type commandsNoRun struct{ basic }

func (commandsNoRun) Commands() []Command { return []Command{{Pattern: "/x"}} }

type everything struct{ basic }

func (everything) Process(ctx context.Context, msg *channels.Message) error { return nil }
func (everything) Commands() []Command                                      { return []Command{{Pattern: "/e"}} }
func (everything) Run(ctx context.Context, msg *channels.Message, m Match) error {
	return nil
}
func (everything) Inline(ctx context.Context, msg *channels.Message, m Match) error {
	return nil
}
func (everything) Cron(ctx context.Context) error { return nil }

type masked struct{ everything }

func (masked) Capabilities() Capabilities { return IsPeriodic }

type dynamicPlugin struct {
	basic
	mu   sync.Mutex
	tags []string
}

func (d *dynamicPlugin) DynamicCommands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var cmds []Command
	for _, t := range d.tags {
		cmds = append(cmds, Command{Pattern: "#" + t, Hidden: true})
	}
	return cmds
}
func (d *dynamicPlugin) Run(ctx context.Context, msg *channels.Message, m Match) error {
	return nil
}

func TestCapabilitiesOf(t *testing.T) {
	tests := []struct {
		name string
		p    Plugin
		want Capabilities
	}{
		{"inert", &basic{"inert"}, 0},
		{"commands", &commandPlugin{basic: basic{"c"}}, HasCommands},
		{"commands without run", &commandsNoRun{basic{"n"}}, 0},
		{"everything", everything{basic{"e"}}, ProcessesAll | HasCommands | IsPeriodic | SupportsInline},
		{"masked", masked{everything{basic{"m"}}}, IsPeriodic},
		{"dynamic", &dynamicPlugin{basic: basic{"d"}}, HasCommands},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilitiesOf(tt.p))
		})
	}
	assert.Equal(t, "none", Capabilities(0).String())
	assert.Equal(t, "process,cron", (ProcessesAll | IsPeriodic).String())
}

func TestRegistry_Load(t *testing.T) {
	src := FactorySource{
		"ping": func(Host) (Plugin, error) {
			return &commandPlugin{basic: basic{"ping"}, cmds: []Command{{Pattern: "/ping"}, {Pattern: "/bad("}}}, nil
		},
		"broken": func(Host) (Plugin, error) { return nil, errors.New("boom") },
		"panics": func(Host) (Plugin, error) { panic("kaboom") },
		"norun":  func(Host) (Plugin, error) { return &commandsNoRun{basic{"norun"}}, nil },
		"inert":  func(Host) (Plugin, error) { return &basic{"inert"}, nil },
	}
	r := NewRegistry(nil, "/", discard, src)

	set, report := r.Load(context.Background(), []string{"ping", "broken", "panics", "missing", "norun", "inert", "ping"})

	assert.Equal(t, 7, report.Requested)
	assert.Equal(t, []string{"ping", "norun", "inert"}, report.Loaded)
	require.Len(t, report.Failed, 3)
	assert.ErrorIs(t, report.Failed["missing"], ErrUnknownPlugin)
	assert.Contains(t, report.Failed["panics"].Error(), "kaboom")

	require.Equal(t, 3, set.Len())
	ping, ok := set.Lookup("ping")
	require.True(t, ok)
	assert.Len(t, ping.Triggers, 1, "invalid pattern is skipped")
	assert.NotNil(t, ping.Runner)

	norun, _ := set.Lookup("norun")
	assert.Empty(t, norun.Triggers)
	_, ok = norun.Match("/x")
	assert.False(t, ok, "commands without run hook never match")

	assert.Equal(t, 0, r.Active().Len(), "Load does not publish")
}

func TestRegistry_SourceOrder(t *testing.T) {
	first := FactorySource{"a": func(Host) (Plugin, error) { return &basic{"first"}, nil }}
	second := FactorySource{
		"a": func(Host) (Plugin, error) { return &basic{"second"}, nil },
		"b": func(Host) (Plugin, error) { return &basic{"second-b"}, nil },
	}
	r := NewRegistry(nil, "/", discard, first, second)
	set, _ := r.Load(context.Background(), []string{"a", "b"})

	a, _ := set.Lookup("a")
	b, _ := set.Lookup("b")
	assert.Equal(t, "first", a.Plugin.Name())
	assert.Equal(t, "second-b", b.Plugin.Name())
}

func TestRegistry_ReloadSwapsAndCloses(t *testing.T) {
	var made []*commandPlugin
	var mu sync.Mutex
	src := FactorySource{
		"c": func(Host) (Plugin, error) {
			p := &commandPlugin{basic: basic{"c"}, cmds: []Command{{Pattern: "/c"}}}
			mu.Lock()
			made = append(made, p)
			mu.Unlock()
			return p, nil
		},
	}
	r := NewRegistry(nil, "/", discard, src)

	r.Reload(context.Background(), []string{"c"})
	first := r.Active()
	assert.Equal(t, uint64(1), first.Generation)

	r.SetPrefix("!")
	r.Reload(context.Background(), []string{"c"})
	second := r.Active()
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, "!", second.Prefix)

	require.Len(t, made, 2)
	assert.True(t, made[0].closed.Load())
	assert.False(t, made[1].closed.Load())

	d, _ := second.Lookup("c")
	_, ok := d.Match("!c")
	assert.True(t, ok)

	require.NoError(t, r.Close())
	assert.True(t, made[1].closed.Load())
	assert.Equal(t, 0, r.Active().Len())
}

func TestRegistry_ConcurrentReloadIsAtomic(t *testing.T) {
	src := FactorySource{}
	for _, n := range []string{"a1", "a2", "a3", "b1", "b2", "b3"} {
		n := n
		src[n] = func(Host) (Plugin, error) { return &basic{n}, nil }
	}
	setA := []string{"a1", "a2", "a3"}
	setB := []string{"b1", "b2", "b3"}

	r := NewRegistry(nil, "/", discard, src)
	r.Reload(context.Background(), setA)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			if i%2 == 0 {
				r.Reload(ctx, setB)
			} else {
				r.Reload(ctx, setA)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		set := r.Active()
		require.Equal(t, 3, set.Len())
		group := set.Plugins[0].Name[0]
		for _, d := range set.Plugins {
			require.Equal(t, group, d.Name[0], "mixed plugin set observed")
		}
	}
	cancel()
	wg.Wait()
}

func TestDescriptor_DynamicCommands(t *testing.T) {
	p := &dynamicPlugin{basic: basic{"pins"}}
	r := NewRegistry(nil, "/", discard, FactorySource{"pins": func(Host) (Plugin, error) { return p, nil }})
	set, _ := r.Load(context.Background(), []string{"pins"})
	d, _ := set.Lookup("pins")

	_, ok := d.Match("look at #gopher")
	assert.False(t, ok)

	p.mu.Lock()
	p.tags = []string{"gopher"}
	p.mu.Unlock()

	m, ok := d.Match("look at #gopher")
	require.True(t, ok)
	assert.True(t, m.Dynamic)
	assert.Equal(t, "#gopher", m.Command.Pattern)
	assert.Len(t, d.Commands(), 1)
}

func TestRegister(t *testing.T) {
	Register("registry-test", func(Host) (Plugin, error) { return &basic{"registry-test"}, nil })
	assert.Contains(t, Registered(), "registry-test")
	assert.Panics(t, func() {
		Register("registry-test", func(Host) (Plugin, error) { return nil, nil })
	})

	p, err := Builtin().Open(context.Background(), "registry-test", nil)
	require.NoError(t, err)
	assert.Equal(t, "registry-test", p.Name())

	_, err = Builtin().Open(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestNativeSource_Unknown(t *testing.T) {
	s := NewNativeSource(t.TempDir(), discard)
	_, err := s.Open(context.Background(), "absent", nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	_, err = NewNativeSource("", discard).Open(context.Background(), "absent", nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestNewReply(t *testing.T) {
	me := channels.User{ID: "1", FirstName: "Bot"}
	in := &channels.Message{ID: "9", Conversation: channels.Conversation{ID: "c"}, Type: channels.MessageText}

	out := NewReply(me, in, "hi", WithFormat("HTML"), WithReplyTo(in))
	assert.Equal(t, "c", out.Conversation.ID)
	assert.Equal(t, me, out.Sender)
	assert.Equal(t, channels.MessageText, out.Type)
	assert.Equal(t, "HTML", out.ExtraString("format"))
	assert.Same(t, in, out.Reply)
	assert.NotEmpty(t, out.ID)

	q := &channels.Message{ID: "q", Type: channels.MessageInlineQuery}
	ans := NewReply(me, q, "", WithExtra("inline_results", []any{}))
	assert.Equal(t, channels.MessageInlineQuery, ans.Type)
	assert.Same(t, q, ans.Reply)
}
