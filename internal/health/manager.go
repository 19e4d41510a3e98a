// Package health runs the periodic housekeeping checks: idle sessions,
// cooldown pruning, lag thresholds, journal retention and the MQTT heartbeat.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/region"
	"github.com/energizer-project/realmcore/internal/util"
)

// Sessions is the session registry as seen by the health checks.
type Sessions interface {
	CleanStale(timeout time.Duration) int
	Count() int
}

// LagAlerter raises lag threshold alerts.
type LagAlerter interface {
	Alert(ctx context.Context) []region.LagAlert
}

// Pruner drops journal rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// CooldownPruner drops expired reuse timers.
type CooldownPruner interface {
	Prune(now time.Time) int
}

// Heartbeat publishes the periodic status message.
type Heartbeat interface {
	PublishHeartbeat(sessions int, snaps []*region.Snapshot)
}

// SnapshotSource lists region snapshots for the heartbeat.
type SnapshotSource interface {
	Snapshots() []*region.Snapshot
}

// Deps are the collaborators of the checks. Nil members disable the checks
// that need them.
type Deps struct {
	Sessions  Sessions
	Lag       LagAlerter
	Journal   Pruner
	Cooldowns CooldownPruner
	Heartbeat Heartbeat
	Regions   SnapshotSource
}

// Manager runs periodic health checks on all subsystems.
type Manager struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, deps Deps) *Manager {
	return &Manager{cfg: cfg, deps: deps, now: time.Now}
}

type check struct {
	name     string
	interval int
	fn       func(context.Context)
}

func (m *Manager) checks() []check {
	timers := m.cfg.ApplicationData.Timers
	return []check{
		{"general_health", timers.GeneralHealthInterval, m.checkGeneralHealth},
		{"lag_health", timers.LagCheckInterval, m.checkLagHealth},
		{"journal_retention", timers.JournalPruneInterval, m.pruneJournal},
		{"heartbeat", timers.HeartbeatInterval, m.heartbeat},
	}
}

// Start launches all health check goroutines and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	checks := m.checks()
	started := 0
	for _, c := range checks {
		if c.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(c.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", c.name).Msg("running initial health check")
			c.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkGeneralHealth closes idle sessions, prunes expired cooldowns and logs
// the process resource usage.
func (m *Manager) checkGeneralHealth(ctx context.Context) {
	if m.deps.Sessions != nil {
		timeout := time.Duration(m.cfg.GetServerData().SessionIdleTimeout) * time.Second
		if timeout > 0 {
			if cleaned := m.deps.Sessions.CleanStale(timeout); cleaned > 0 {
				log.Info().Int("cleaned", cleaned).Msg("closed idle sessions")
			}
		}
	}

	if m.deps.Cooldowns != nil {
		if pruned := m.deps.Cooldowns.Prune(m.now()); pruned > 0 {
			log.Debug().Int("pruned", pruned).Msg("pruned expired cooldowns")
		}
	}

	if stats, err := util.GetProcessStats(); err == nil {
		log.Debug().
			Float64("cpu_percent", stats.CPUPercent).
			Uint64("rss_mb", stats.RSSMB).
			Int("goroutines", stats.Goroutines).
			Msg("process health")
	}
}

func (m *Manager) checkLagHealth(ctx context.Context) {
	if m.deps.Lag == nil {
		return
	}
	if alerts := m.deps.Lag.Alert(ctx); len(alerts) > 0 {
		log.Debug().Int("alerts", len(alerts)).Msg("lag check raised alerts")
	}
}

// pruneJournal enforces the journal retention window.
func (m *Manager) pruneJournal(ctx context.Context) {
	days := m.cfg.ApplicationData.Journal.RetentionDays
	if m.deps.Journal == nil || days <= 0 {
		return
	}
	before := m.now().AddDate(0, 0, -days)
	n, err := m.deps.Journal.Prune(ctx, before)
	if err != nil {
		log.Warn().Err(err).Msg("journal retention failed")
		return
	}
	if n > 0 {
		log.Info().Int64("rows", n).Time("before", before).Msg("pruned journal")
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	if m.deps.Heartbeat == nil {
		return
	}
	sessions := 0
	if m.deps.Sessions != nil {
		sessions = m.deps.Sessions.Count()
	}
	var snaps []*region.Snapshot
	if m.deps.Regions != nil {
		snaps = m.deps.Regions.Snapshots()
	}
	m.deps.Heartbeat.PublishHeartbeat(sessions, snaps)
}
