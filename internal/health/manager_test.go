package health

import (
	"context"
	"testing"
	"time"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/region"
)

type fakeSessions struct {
	timeouts []time.Duration
}

func (f *fakeSessions) CleanStale(timeout time.Duration) int {
	f.timeouts = append(f.timeouts, timeout)
	return 1
}
func (f *fakeSessions) Count() int { return 3 }

type fakePruner struct {
	before time.Time
	calls  int
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	f.calls++
	return 2, nil
}

type fakeCooldowns struct{ calls int }

func (f *fakeCooldowns) Prune(time.Time) int {
	f.calls++
	return 0
}

type fakeHeartbeat struct {
	sessions int
	snaps    int
}

func (f *fakeHeartbeat) PublishHeartbeat(sessions int, snaps []*region.Snapshot) {
	f.sessions = sessions
	f.snaps = len(snaps)
}

type fakeRegions struct{}

func (fakeRegions) Snapshots() []*region.Snapshot {
	return []*region.Snapshot{{RegionID: 1}, {RegionID: 2}}
}

type fakeLag struct{ calls int }

func (f *fakeLag) Alert(context.Context) []region.LagAlert {
	f.calls++
	return nil
}

func TestGeneralHealthUsesIdleTimeout(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.ServerData.SessionIdleTimeout = 90
	sessions := &fakeSessions{}
	cooldowns := &fakeCooldowns{}

	m := NewManager(cfg, Deps{Sessions: sessions, Cooldowns: cooldowns})
	m.checkGeneralHealth(context.Background())

	if len(sessions.timeouts) != 1 || sessions.timeouts[0] != 90*time.Second {
		t.Fatalf("expected one 90s clean, got %v", sessions.timeouts)
	}
	if cooldowns.calls != 1 {
		t.Fatalf("expected cooldown prune, got %d calls", cooldowns.calls)
	}
}

func TestJournalRetention(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Journal.RetentionDays = 7
	journal := &fakePruner{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	m := NewManager(cfg, Deps{Journal: journal})
	m.now = func() time.Time { return now }
	m.pruneJournal(context.Background())

	if want := now.AddDate(0, 0, -7); !journal.before.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, journal.before)
	}

	cfg.ApplicationData.Journal.RetentionDays = 0
	m.pruneJournal(context.Background())
	if journal.calls != 1 {
		t.Fatalf("expected retention 0 to keep everything, got %d calls", journal.calls)
	}
}

func TestHeartbeatAndLag(t *testing.T) {
	t.Parallel()
	hb := &fakeHeartbeat{}
	lag := &fakeLag{}
	m := NewManager(config.DefaultConfig(), Deps{
		Sessions:  &fakeSessions{},
		Heartbeat: hb,
		Regions:   fakeRegions{},
		Lag:       lag,
	})

	m.heartbeat(context.Background())
	m.checkLagHealth(context.Background())

	if hb.sessions != 3 || hb.snaps != 2 {
		t.Fatalf("expected 3 sessions and 2 regions, got %d and %d", hb.sessions, hb.snaps)
	}
	if lag.calls != 1 {
		t.Fatalf("expected one lag check, got %d", lag.calls)
	}
}

func TestNilDependenciesAreSkipped(t *testing.T) {
	t.Parallel()
	m := NewManager(config.DefaultConfig(), Deps{})
	ctx := context.Background()
	for _, c := range m.checks() {
		c.fn(ctx)
	}
}
