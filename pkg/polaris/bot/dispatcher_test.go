package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

func TestDispatch_PingPong(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{}, map[string]plugins.Factory{"ping": pingFactory(rec)}, []string{"ping"})

	out := h.bot.Dispatch(context.Background(), h.message("/ping", 0))

	assert.False(t, out.Stale)
	require.Len(t, out.Fired, 1)
	assert.Equal(t, "ping", out.Fired[0].Plugin)
	assert.Empty(t, out.Errors)

	sent := h.outbound()
	require.Len(t, sent, 1)
	assert.Equal(t, "pong", sent[0].Content)
	assert.Equal(t, "chat-1", sent[0].Conversation.ID)
	assert.Equal(t, botUser, sent[0].Sender)
}

func TestDispatch_StaleMessageIsDropped(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{Staleness: 10 * time.Second},
		map[string]plugins.Factory{"ping": pingFactory(rec)}, []string{"ping"})

	out := h.bot.Dispatch(context.Background(), h.message("/ping", 30*time.Second))

	assert.True(t, out.Stale)
	assert.Empty(t, rec.list(), "no hook may run for a stale message")
	assert.Empty(t, h.outbound())
	assert.Equal(t, uint64(1), h.bot.Stats().DroppedStale)

	out = h.bot.Dispatch(context.Background(), h.message("/ping", 10*time.Second))
	assert.False(t, out.Stale, "a message exactly at the threshold is still fresh")
}

func TestDispatch_ProcessRunsForEveryPluginInOrder(t *testing.T) {
	rec := &recorder{}
	factory := func(name string) plugins.Factory {
		return func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: name, host: host, rec: rec,
				commands: []plugins.Command{{Pattern: "/" + name}}}, nil
		}
	}
	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"a": factory("a"), "b": factory("b"), "c": factory("c"),
	}, []string{"c", "a", "b"})

	out := h.bot.Dispatch(context.Background(), h.message("hello there", 0))
	assert.Equal(t, []string{"c", "a", "b"}, out.Processed)
	assert.Empty(t, out.Fired)
	assert.Equal(t, []string{"c.process", "a.process", "b.process"}, rec.list())

	rec.calls = nil
	h.bot.Dispatch(context.Background(), h.message("/a", 0))
	assert.Equal(t, []string{"c.process", "a.process", "b.process", "a.run /a"}, rec.list(),
		"process hooks run before any command hook")
}

func TestDispatch_OverlappingPatterns(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"remind": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "remind", rec: rec, commands: []plugins.Command{
				{Pattern: "/remindme"}, {Pattern: "/remind"}, {Pattern: "/r"},
			}}, nil
		},
		"echo": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "echo", rec: rec, commands: []plugins.Command{{Pattern: "/r"}}}, nil
		},
		"quiet": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "quiet", rec: rec, commands: []plugins.Command{{Pattern: "/quiet"}}}, nil
		},
	}, []string{"remind", "echo", "quiet"})

	out := h.bot.Dispatch(context.Background(), h.message("/remindme 5m tea", 0))

	require.Len(t, out.Fired, 2)
	assert.Equal(t, Firing{Plugin: "remind", Command: plugins.Command{Pattern: "/remindme"}}, out.Fired[0])
	assert.Equal(t, Firing{Plugin: "echo", Command: plugins.Command{Pattern: "/r"}}, out.Fired[1])
	assert.Equal(t, []string{"remind.run /remindme", "echo.run /r"}, rec.list())
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	rec := &recorder{}
	var reported []*HookError
	var mu sync.Mutex
	reporter := ReporterFunc(func(ctx context.Context, err *HookError) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"a": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "a", host: host, rec: rec,
				process: func(*channels.Message) error { return errBoom }}, nil
		},
		"p": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "p", host: host, rec: rec,
				commands: []plugins.Command{{Pattern: "/ping"}},
				run:      func(*channels.Message, plugins.Match) error { panic("kaboom") }}, nil
		},
		"b": pingFactory(rec),
	}, []string{"a", "p", "b"}, WithErrorReporter(reporter))

	out := h.bot.Dispatch(context.Background(), h.message("/ping", 0))

	require.Len(t, out.Errors, 2)
	assert.Equal(t, "a", out.Errors[0].Plugin)
	assert.Equal(t, HookProcess, out.Errors[0].Hook)
	assert.ErrorIs(t, out.Errors[0], errBoom)
	assert.Equal(t, "p", out.Errors[1].Plugin)
	assert.Equal(t, HookRun, out.Errors[1].Hook)
	assert.Contains(t, out.Errors[1].Error(), "kaboom")
	assert.Len(t, reported, 2)

	sent := h.outbound()
	require.Len(t, sent, 1, "plugin b still replies")
	assert.Equal(t, "pong", sent[0].Content)

	h.bot.Dispatch(context.Background(), h.message("/ping", 0))
	assert.Len(t, h.outbound(), 1, "later messages are still handled")
	assert.Equal(t, uint64(4), h.bot.Stats().HookErrors)
}

func TestDispatch_InlineQueries(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"plain": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "plain", rec: rec, commands: []plugins.Command{{Pattern: "gif"}}}, nil
		},
		"inline": func(plugins.Host) (plugins.Plugin, error) {
			return &inlinePlugin{commandOnly{name: "inline", rec: rec, commands: []plugins.Command{{Pattern: "gif"}}}}, nil
		},
	}, []string{"plain", "inline"})

	msg := h.message("gif cats", 0)
	msg.Type = channels.MessageInlineQuery
	out := h.bot.Dispatch(context.Background(), msg)

	require.Len(t, out.Fired, 1)
	assert.True(t, out.Fired[0].Inline)
	assert.Equal(t, []string{"inline.inline gif"}, rec.list())

	rec.calls = nil
	h.bot.Dispatch(context.Background(), h.message("gif cats", 0))
	assert.Equal(t, []string{"plain.run gif", "inline.run gif"}, rec.list())
}

func TestDispatch_HookTimeout(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{HookTimeout: 20 * time.Millisecond}, map[string]plugins.Factory{
		"slow": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "slow", host: host, rec: rec,
				process: func(*channels.Message) error {
					time.Sleep(100 * time.Millisecond)
					return nil
				}}, nil
		},
		"ping": pingFactory(rec),
	}, []string{"slow", "ping"})

	start := time.Now()
	out := h.bot.Dispatch(context.Background(), h.message("/ping", 0))

	assert.Less(t, time.Since(start), 90*time.Millisecond)
	require.Len(t, out.Errors, 1)
	assert.ErrorIs(t, out.Errors[0], ErrHookTimeout)
	assert.Len(t, h.outbound(), 1)

	// Let the abandoned hook finish before the leak check.
	time.Sleep(120 * time.Millisecond)
}

func TestDispatch_AdminReporter(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{AdminConversation: "admins"}, map[string]plugins.Factory{
		"bad": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "bad", host: host, rec: rec,
				commands: []plugins.Command{{Pattern: "/bad"}},
				run:      func(*channels.Message, plugins.Match) error { return errBoom }}, nil
		},
	}, []string{"bad"})

	h.bot.Dispatch(context.Background(), h.message("/bad", 0))

	sent := h.outbound()
	require.Len(t, sent, 1)
	assert.Equal(t, "admins", sent[0].Conversation.ID)
	assert.Contains(t, sent[0].Content, "bad failed in run: boom")
	assert.Contains(t, sent[0].Content, "/bad")
}

func TestDispatch_ReloadMidStream(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"ping": pingFactory(rec),
		"other": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "other", rec: rec, commands: []plugins.Command{{Pattern: "/ping"}}}, nil
		},
	}, []string{"ping"})

	h.bot.Dispatch(context.Background(), h.message("/ping", 0))
	_, err := h.bot.Reload(context.Background(), []string{"other"}, "!")
	require.NoError(t, err)
	h.bot.Dispatch(context.Background(), h.message("/ping", 0))
	h.bot.Dispatch(context.Background(), h.message("!ping", 0))

	assert.Equal(t, []string{"ping.process", "ping.run ^/ping", "other.run /ping"}, rec.list())
	assert.Equal(t, "!", h.bot.Prefix())
}
