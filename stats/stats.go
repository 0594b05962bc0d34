// Package stats implements the run-time statistics surface spec.md §6's
// stats_controller knob distributes: a periodic Snapshot of per-source
// queue depth, delivered as an ordinary message on an Environment's
// stats distribution mbox (env.StatsController.DistributionMbox). The
// snapshot shape is grounded on the queue_size_stats sample named in
// spec.md's own §1 Non-goals (the sample program is excluded, its
// reporting interface is not) and on the teacher's model.HubStats
// (total/shard counters distributed from a running registry).
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/actorkit/coop"
	"github.com/webitel/actorkit/env"
	"github.com/webitel/actorkit/message"
)

// Source is anything a Collector can read a queue depth from — every
// disp.EventQueue implementation already exposes Len(), so any
// dispatcher's queue can be adapted into a Source by pairing it with a
// label.
type Source struct {
	Label string
	Queue interface{ Len() int }
}

// DispatcherStats is one Source's reading at snapshot time, the
// per-dispatcher analog of the teacher's model.ShardStats.
type DispatcherStats struct {
	Label      string `json:"label"`
	QueueDepth int    `json:"queue_depth"`
}

// Snapshot is one point-in-time reading distributed on the stats mbox,
// the Go-native analog of the teacher's model.HubStats.
type Snapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	CoopCount   int               `json:"coop_count"`
	Dispatchers []DispatcherStats `json:"dispatchers"`
}

// Collector periodically builds a Snapshot from a fixed set of Sources
// and a coop.Registry, and distributes it on an Environment's stats
// mbox.
type Collector struct {
	logger   *slog.Logger
	env      *env.Environment
	registry *coop.Registry
	sources  []Source
	interval time.Duration
}

// NewCollector returns a Collector reading sources and registry's coop
// count, distributing snapshots through e's StatsController mbox every
// interval. A nil logger defaults to e.Logger().
func NewCollector(e *env.Environment, registry *coop.Registry, sources []Source, interval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = e.Logger()
	}
	return &Collector{logger: logger, env: e, registry: registry, sources: sources, interval: interval}
}

// snapshot reads every Source and the registry's coop count into a
// Snapshot. Unexported: exercised through Run/CollectOnce so tests
// observe the same path production uses.
func (c *Collector) snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:   time.Now(),
		Dispatchers: make([]DispatcherStats, 0, len(c.sources)),
	}
	if c.registry != nil {
		snap.CoopCount = c.registry.Len()
	}
	for _, s := range c.sources {
		snap.Dispatchers = append(snap.Dispatchers, DispatcherStats{
			Label:      s.Label,
			QueueDepth: s.Queue.Len(),
		})
	}
	return snap
}

// CollectOnce builds one Snapshot and sends it on the environment's
// stats distribution mbox if stats collection is turned on
// (env.StatsController.Enabled), returning it either way so callers can
// inspect or log it directly.
func (c *Collector) CollectOnce() Snapshot {
	snap := c.snapshot()
	if stats := c.env.Stats(); stats != nil && stats.Enabled() {
		if err := stats.DistributionMbox().Send(message.New(snap)); err != nil {
			c.logger.Error("stats: failed to distribute snapshot", "err", err)
		}
	}
	return snap
}

// Run collects and distributes a Snapshot every interval until ctx is
// cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce()
		}
	}
}
