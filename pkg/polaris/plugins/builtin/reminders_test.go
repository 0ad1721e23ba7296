package builtin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/builtin"
	"github.com/jholhewres/polaris/pkg/polaris/plugins/plugintest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func remindme(t *testing.T, r *builtin.Reminders, msg *channels.Message) {
	t.Helper()
	require.NoError(t, r.Run(context.Background(), msg, plugins.Match{Command: r.Commands()[0]}))
}

func TestReminders_Set(t *testing.T) {
	host := plugintest.NewHost()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
	r, err := builtin.NewReminders(host, clock.Now)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		want    string
		pending int
	}{
		{
			name:    "usage",
			content: "/remindme",
			want:    "`/remindme <delay> <message>`\nSet a reminder for yourself. Example: /remindme 2h stretch",
		},
		{
			name:    "bad delay",
			content: "/remindme soon stretch",
			want:    "The delay must be in this format: `(integer)(s|m|h|d)`.\nExample: `2h` for 2 hours.",
		},
		{
			name:    "missing text",
			content: "/remindme 10m",
			want:    "Please include a reminder.",
		},
		{
			name:    "too long",
			content: "/remindme 200000d later",
			want:    "That delay is too long.",
		},
		{
			name:    "set",
			content: "/remindme 10m stretch your legs",
			want:    "Your reminder has been set for *10 minutes* from now:\n\n_stretch your legs_\n@alice",
			pending: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host.Reset()
			remindme(t, r, incoming(alice, tt.content))
			sent := host.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.want, sent[0].Content)
			assert.Equal(t, tt.pending, r.Pending())
		})
	}
}

func TestReminders_CronDeliversDue(t *testing.T) {
	host := plugintest.NewHost()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
	r, err := builtin.NewReminders(host, clock.Now)
	require.NoError(t, err)

	bob := channels.User{ID: "u2", FirstName: "Bob"}
	remindme(t, r, incoming(alice, "/remindme 2h second"))
	remindme(t, r, incoming(bob, "/remindme 90m first"))
	remindme(t, r, incoming(alice, "/remindme 1d later"))
	require.Equal(t, 3, r.Pending())
	host.Reset()

	ctx := context.Background()
	require.NoError(t, r.Cron(ctx))
	assert.Empty(t, host.Sent())

	clock.Advance(2 * time.Hour)
	require.NoError(t, r.Cron(ctx))

	sent := host.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "_first_", sent[0].Content)
	assert.Equal(t, "_second_\n@alice", sent[1].Content)
	for _, m := range sent {
		assert.Equal(t, "c1", m.Conversation.ID)
		assert.Equal(t, "Markdown", m.ExtraString("format"))
		assert.Equal(t, host.Identity, m.Sender)
	}
	assert.Equal(t, 1, r.Pending())

	host.Reset()
	require.NoError(t, r.Cron(ctx))
	assert.Empty(t, host.Sent())
}

func TestReminders_Persisted(t *testing.T) {
	host := plugintest.NewHost()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
	r, err := builtin.NewReminders(host, clock.Now)
	require.NoError(t, err)
	remindme(t, r, incoming(alice, "/remindme 30s tea"))

	// A fresh instance over the same store picks the reminder up.
	reloaded, err := builtin.NewReminders(host, clock.Now)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Pending())

	host.Reset()
	clock.Advance(time.Minute)
	require.NoError(t, reloaded.Cron(context.Background()))
	require.Len(t, host.Sent(), 1)
	assert.Equal(t, "Friends", host.Sent()[0].Conversation.Title)

	data, err := host.Store().Load(context.Background(), "reminders")
	require.NoError(t, err)
	assert.Empty(t, data)
}
