package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/polaris/pkg/polaris/plugins"
)

// DefaultCronSchedule runs periodic hooks every five seconds.
const DefaultCronSchedule = "@every 5s"

// ParseSchedule accepts a Go duration ("5s"), an "@every" descriptor or a
// standard five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultCronSchedule
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("cron interval must be positive, got %s", d)
		}
		return &cron.ConstantDelaySchedule{Delay: d}, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Cron invokes every plugin's periodic hook when due. It has no timer of
// its own: the bot's main loop asks Due and waits on the inbox until Next.
type Cron struct {
	schedule cron.Schedule
	registry *plugins.Registry
	hooks    *hookRunner
	now      func() time.Time
	stats    *Stats
	logger   *slog.Logger

	mu   sync.Mutex
	next time.Time
}

func newCron(schedule cron.Schedule, registry *plugins.Registry, hooks *hookRunner, now func() time.Time, stats *Stats, logger *slog.Logger) *Cron {
	c := &Cron{
		schedule: schedule,
		registry: registry,
		hooks:    hooks,
		now:      now,
		stats:    stats,
		logger:   logger,
	}
	c.next = c.after(now())
	return c
}

// after returns the first due time after t. Fixed intervals count from t
// itself, without the whole-second rounding cron applies.
func (c *Cron) after(t time.Time) time.Time {
	if every, ok := c.schedule.(*cron.ConstantDelaySchedule); ok {
		return t.Add(every.Delay)
	}
	return c.schedule.Next(t)
}

func (c *Cron) reset(now time.Time) {
	c.mu.Lock()
	c.next = c.after(now)
	c.mu.Unlock()
}

// Due reports whether a tick is due at now.
func (c *Cron) Due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !now.Before(c.next)
}

// Next returns the next due time.
func (c *Cron) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Tick runs the periodic hook of every active plugin sequentially, in
// registry order, then schedules the next tick from the current time.
func (c *Cron) Tick(ctx context.Context) []*HookError {
	set := c.registry.Active()
	c.stats.CronTicks.Add(1)

	var errs []*HookError
	for _, p := range set.Plugins {
		if p.Periodic == nil {
			continue
		}
		if herr := c.hooks.invoke(ctx, p.Name, HookCron, nil, p.Periodic.Cron); herr != nil {
			errs = append(errs, herr)
		}
	}

	c.mu.Lock()
	c.next = c.after(c.now())
	next := c.next
	c.mu.Unlock()

	c.logger.Debug("cron tick", "plugins", set.Len(), "errors", len(errs), "next", next)
	return errs
}
