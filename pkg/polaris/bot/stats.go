package bot

import "sync/atomic"

// Stats holds runtime counters. All fields are safe for concurrent use.
type Stats struct {
	Received     atomic.Uint64
	Dispatched   atomic.Uint64
	DroppedStale atomic.Uint64
	Commands     atomic.Uint64
	HookErrors   atomic.Uint64
	CronTicks    atomic.Uint64
	Delivered    atomic.Uint64
	SendErrors   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received     uint64 `json:"received"`
	Dispatched   uint64 `json:"dispatched"`
	DroppedStale uint64 `json:"dropped_stale"`
	Commands     uint64 `json:"commands"`
	HookErrors   uint64 `json:"hook_errors"`
	CronTicks    uint64 `json:"cron_ticks"`
	Delivered    uint64 `json:"delivered"`
	SendErrors   uint64 `json:"send_errors"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:     s.Received.Load(),
		Dispatched:   s.Dispatched.Load(),
		DroppedStale: s.DroppedStale.Load(),
		Commands:     s.Commands.Load(),
		HookErrors:   s.HookErrors.Load(),
		CronTicks:    s.CronTicks.Load(),
		Delivered:    s.Delivered.Load(),
		SendErrors:   s.SendErrors.Load(),
	}
}
