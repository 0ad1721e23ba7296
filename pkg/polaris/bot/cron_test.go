package bot

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
		every   time.Duration
	}{
		{"", false, 5 * time.Second},
		{"@every 5s", false, 5 * time.Second},
		{"250ms", false, 250 * time.Millisecond},
		{"1m", false, time.Minute},
		{"*/5 * * * *", false, 0},
		{"-1s", true, 0},
		{"not a schedule", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.every > 0 {
				every, ok := s.(*cron.ConstantDelaySchedule)
				require.True(t, ok)
				assert.Equal(t, tt.every, every.Delay)
			}
		})
	}
}

func TestCron_DueAndTick(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, Config{}, map[string]plugins.Factory{
		"a": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "a", host: host, rec: rec, cron: func() error { return errBoom }}, nil
		},
		"inert": func(plugins.Host) (plugins.Plugin, error) {
			return &commandOnly{name: "inert", rec: rec}, nil
		},
		"b": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "b", host: host, rec: rec, cron: func() error { panic("tick") }}, nil
		},
		"c": func(host plugins.Host) (plugins.Plugin, error) {
			return &testPlugin{name: "c", host: host, rec: rec}, nil
		},
	}, []string{"a", "inert", "b", "c"})
	c := h.bot.cron

	start := h.clock.Now()
	assert.False(t, c.Due(start))
	assert.Equal(t, start.Add(5*time.Second), c.Next())

	h.clock.Advance(4 * time.Second)
	assert.False(t, c.Due(h.clock.Now()))

	h.clock.Advance(time.Second)
	require.True(t, c.Due(h.clock.Now()))

	errs := c.Tick(context.Background())
	require.Len(t, errs, 2, "failures are isolated per plugin")
	assert.Equal(t, "a", errs[0].Plugin)
	assert.Equal(t, "b", errs[1].Plugin)
	assert.Equal(t, []string{"a.cron", "b.cron", "c.cron"}, rec.list())

	assert.False(t, c.Due(h.clock.Now()), "never due twice within one interval")
	assert.Equal(t, h.clock.Now().Add(5*time.Second), c.Next())

	h.clock.Advance(5 * time.Second)
	assert.True(t, c.Due(h.clock.Now()))
	c.Tick(context.Background())
	assert.Len(t, rec.list(), 6, "a failing plugin runs again on the next tick")
	assert.Equal(t, uint64(2), h.bot.Stats().CronTicks)
}

func TestCron_CronExpression(t *testing.T) {
	h := newHarness(t, Config{CronSchedule: "0 * * * *"}, nil, nil)
	start := h.clock.Now()
	assert.Equal(t, start.Truncate(time.Hour).Add(time.Hour), h.bot.cron.Next())
}
