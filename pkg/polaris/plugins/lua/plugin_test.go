package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/plugintest"
)

const echoScript = `
description = "Echo things back"
commands = {
	{ pattern = "/echo", parameters = { "text" }, description = "Repeat text" },
	"/shout",
}

seen = 0

function process(msg)
	seen = seen + 1
end

function run(msg, match)
	if match.pattern == "/shout" then
		polaris.reply(string.upper(msg.input), "HTML")
		return
	end
	polaris.reply(msg.input .. " from " .. msg.sender.first_name)
end

function cron()
	polaris.send("admin", "seen " .. seen)
end
`

func message(content string) *channels.Message {
	return &channels.Message{
		ID:           "m1",
		Conversation: channels.Conversation{ID: "c1"},
		Sender:       channels.User{ID: "u1", FirstName: "Ada"},
		Content:      content,
		Type:         channels.MessageText,
		Date:         time.Now(),
	}
}

func TestPlugin_Declarations(t *testing.T) {
	p, err := New("echo", echoScript, plugintest.NewHost(), 0)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "echo", p.Name())
	assert.Equal(t, "Echo things back", p.Description())
	require.Len(t, p.Commands(), 2)
	assert.Equal(t, plugins.Command{
		Pattern:     "/echo",
		Description: "Repeat text",
		Parameters:  []plugins.Parameter{{Name: "text", Required: true}},
	}, p.Commands()[0])
	assert.Equal(t, "/shout", p.Commands()[1].Pattern)

	caps := plugins.CapabilitiesOf(p)
	assert.True(t, caps.Has(plugins.ProcessesAll|plugins.HasCommands|plugins.IsPeriodic))
	assert.False(t, caps.Has(plugins.SupportsInline))
}

func TestPlugin_Hooks(t *testing.T) {
	host := plugintest.NewHost()
	p, err := New("echo", echoScript, host, 0)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	msg := message("/echo hello")
	require.NoError(t, p.Process(ctx, msg))
	require.NoError(t, p.Run(ctx, msg, plugins.Match{Command: plugins.Command{Pattern: "/echo"}}))

	shout := message("/shout hey")
	require.NoError(t, p.Run(ctx, shout, plugins.Match{Command: plugins.Command{Pattern: "/shout"}}))
	require.NoError(t, p.Cron(ctx))

	sent := host.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "hello from Ada", sent[0].Content)
	assert.Equal(t, "c1", sent[0].Conversation.ID)
	assert.Equal(t, "HEY", sent[1].Content)
	assert.Equal(t, "HTML", sent[1].ExtraString("format"))
	assert.Equal(t, "seen 1", sent[2].Content)
	assert.Equal(t, "admin", sent[2].Conversation.ID)
}

func TestPlugin_ErrorsAreReturned(t *testing.T) {
	p, err := New("bad", `
commands = { "/x" }
function run(msg) error("nope") end
function cron() polaris.reply("no message") end
`, plugintest.NewHost(), 0)
	require.NoError(t, err)
	defer p.Close()

	err = p.Run(context.Background(), message("/x"), plugins.Match{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	assert.Error(t, p.Cron(context.Background()))
}

func TestPlugin_Timeout(t *testing.T) {
	p, err := New("spin", `function cron() while true do end end`, plugintest.NewHost(), 50*time.Millisecond)
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	assert.Error(t, p.Cron(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPlugin_CancelledContextStopsScript(t *testing.T) {
	p, err := New("spin", `function cron() while true do end end`, plugintest.NewHost(), time.Minute)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	assert.Error(t, p.Cron(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPlugin_Sandbox(t *testing.T) {
	for _, name := range []string{"dofile", "loadfile", "load", "require", "os", "io", "debug"} {
		t.Run(name, func(t *testing.T) {
			_, err := New("s", `assert(`+name+` == nil)`, plugintest.NewHost(), 0)
			assert.NoError(t, err)
		})
	}
}

func TestPlugin_Store(t *testing.T) {
	host := plugintest.NewHost()
	p, err := New("counter", `
function cron()
	local data = polaris.load("state")
	data.count = (data.count or 0) + 1
	polaris.save("state", data)
end
`, host, 0)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Cron(context.Background()))
	require.NoError(t, p.Cron(context.Background()))

	data, err := host.Store().Load(context.Background(), "scripts/counter/state")
	require.NoError(t, err)
	assert.Equal(t, float64(2), data["count"])
}

func TestPlugin_InvalidScript(t *testing.T) {
	_, err := New("broken", `commands = `, plugintest.NewHost(), 0)
	assert.Error(t, err)

	_, err = New("broken", `commands = 5`, plugintest.NewHost(), 0)
	assert.Error(t, err)
}

func TestPlugin_Closed(t *testing.T) {
	p, err := New("c", `function cron() end`, plugintest.NewHost(), 0)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Cron(context.Background()), ErrClosed)
}

func TestSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.lua"), []byte(echoScript), 0o644))

	s := NewSource(dir, 0, nil)
	names, err := s.Scripts()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, names)

	p, err := s.Open(context.Background(), "echo", plugintest.NewHost())
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())
	p.(*Plugin).Close()

	_, err = s.Open(context.Background(), "missing", plugintest.NewHost())
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)

	_, err = s.Open(context.Background(), "../echo", plugintest.NewHost())
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)
}

func TestFromLua(t *testing.T) {
	L, err := newSandbox()
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`v = { list = { "a", "b" }, n = 3, ok = true, nested = { k = "v" } }`))
	got, err := fromLua(L.GetGlobal("v"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"list":   []any{"a", "b"},
		"n":      float64(3),
		"ok":     true,
		"nested": map[string]any{"k": "v"},
	}, got)
}
