package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	_ "github.com/jholhewres/polaris/pkg/polaris/plugins/builtin"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/plugintest"
)

var alice = channels.User{ID: "u1", FirstName: "Alice", Username: "alice"}

// load instantiates the named built-in plugins against host and exposes
// them through host.Plugins.
func load(t *testing.T, host *plugintest.Host, names ...string) *plugins.Set {
	t.Helper()
	reg := plugins.NewRegistry(host, host.Prefix(), host.Logger(), plugins.Builtin())
	set, report := reg.Load(context.Background(), names)
	require.Empty(t, report.Failed)
	require.Len(t, set.Plugins, len(names))
	host.Descriptors = set.Plugins
	return set
}

// dispatch matches msg against d and runs the hook a dispatcher would.
func dispatch(t *testing.T, d *plugins.Descriptor, msg *channels.Message) {
	t.Helper()
	m, ok := d.Match(msg.Content)
	require.True(t, ok, "no trigger of %s matches %q", d.Name, msg.Content)
	if msg.Type == channels.MessageInlineQuery {
		require.NotNil(t, d.Inline)
		require.NoError(t, d.Inline.Inline(context.Background(), msg, m))
		return
	}
	require.NoError(t, d.Runner.Run(context.Background(), msg, m))
}

func incoming(from channels.User, content string) *channels.Message {
	return &channels.Message{
		ID:           "m1",
		Conversation: channels.Conversation{ID: "c1", Title: "Friends"},
		Sender:       from,
		Content:      content,
		Type:         channels.MessageText,
		Date:         time.Now(),
	}
}

func lookup(t *testing.T, set *plugins.Set, name string) *plugins.Descriptor {
	t.Helper()
	d, ok := set.Lookup(name)
	require.True(t, ok)
	return d
}
