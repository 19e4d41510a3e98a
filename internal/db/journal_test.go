package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(context.Background(), config.JournalConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("expected journal, got %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordsCombat(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	for i := range 3 {
		err := j.RecordDamage(ctx, events.DamagePayload{
			RegionID: 1, Tick: uint64(10 + i), AttackerID: 1, DefenderID: 2,
			SpellID: 100, Damage: 40 + i, DamageType: "heat", Outcome: "hit",
		}, now)
		if err != nil {
			t.Fatalf("expected insert to succeed, got %v", err)
		}
	}

	got, err := j.RecentCombat(ctx, 2)
	if err != nil {
		t.Fatalf("expected query to succeed, got %v", err)
	}
	if len(got) != 2 || got[0].Damage != 42 || got[0].Tick != 12 {
		t.Fatalf("expected the two newest entries, got %+v", got)
	}
	if !got[0].At.Equal(now) || got[0].RegionID != 1 || got[0].DamageType != "heat" {
		t.Fatalf("expected fields to round-trip, got %+v", got[0])
	}
}

func TestJournalPrune(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	j.RecordDamage(ctx, events.DamagePayload{Outcome: "hit"}, old)
	j.RecordSecurity(ctx, "session_mismatch", "10.0.0.1", "old", old)
	j.RecordSecurity(ctx, "session_mismatch", "10.0.0.1", "new", time.Now())

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("expected prune to succeed, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", n)
	}
	sec, _ := j.RecentSecurity(ctx, 10)
	if len(sec) != 1 || sec[0].Detail != "new" {
		t.Fatalf("expected the recent security entry kept, got %+v", sec)
	}
}

func TestJournalSubscribe(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	ctx := context.Background()
	bus.EmitSync(ctx, events.Event{Type: events.EventDamageDealt, Payload: events.DamagePayload{Damage: 7, Outcome: "hit"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventSessionMismatch, Payload: events.SessionMismatchPayload{
		RemoteAddr: "10.0.0.9:4000", ExpectedToken: 1, DeclaredToken: 9, Opcode: 0x01,
	}})
	bus.Stop()

	combat, _ := j.RecentCombat(ctx, 10)
	if len(combat) != 1 || combat[0].Damage != 7 {
		t.Fatalf("expected one combat entry, got %+v", combat)
	}
	sec, _ := j.RecentSecurity(ctx, 10)
	if len(sec) != 1 || sec[0].Kind != "session_mismatch" || sec[0].RemoteAddr != "10.0.0.9:4000" {
		t.Fatalf("expected one mismatch entry, got %+v", sec)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	if got := rebind(DriverPostgres, q); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("expected numbered placeholders, got %q", got)
	}
	if got := rebind(DriverSQLite, q); got != q {
		t.Fatalf("expected sqlite query untouched, got %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}
