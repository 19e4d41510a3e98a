package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/events"
)

// Journal records finalized combat resolutions and security events.
type Journal struct {
	db *Database
}

// CombatEntry is one row of the combat log.
type CombatEntry struct {
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
	RegionID   uint16    `json:"region_id"`
	Tick       uint64    `json:"tick"`
	AttackerID uint32    `json:"attacker_id"`
	DefenderID uint32    `json:"defender_id"`
	SpellID    int       `json:"spell_id"`
	Damage     int       `json:"damage"`
	Critical   int       `json:"critical"`
	DamageType string    `json:"damage_type"`
	Outcome    string    `json:"outcome"`
}

// SecurityEntry is one row of the security log.
type SecurityEntry struct {
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	RemoteAddr string    `json:"remote_addr"`
	Detail     string    `json:"detail"`
}

// OpenJournal opens the journal database described by cfg and migrates it.
func OpenJournal(ctx context.Context, cfg config.JournalConfig) (*Journal, error) {
	database, err := Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	j := &Journal{db: database}
	if err := j.migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if j.db.Driver() == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS combat_log (
			id ` + pk + `,
			at BIGINT NOT NULL,
			region_id INTEGER NOT NULL,
			tick BIGINT NOT NULL,
			attacker_id BIGINT NOT NULL,
			defender_id BIGINT NOT NULL,
			spell_id INTEGER NOT NULL,
			damage INTEGER NOT NULL,
			critical INTEGER NOT NULL,
			damage_type TEXT NOT NULL,
			outcome TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_combat_log_at ON combat_log(at)`,
		`CREATE TABLE IF NOT EXISTS security_log (
			id ` + pk + `,
			at BIGINT NOT NULL,
			kind TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			detail TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_log_at ON security_log(at)`,
	}
	return j.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordDamage stores one combat resolution.
func (j *Journal) RecordDamage(ctx context.Context, p events.DamagePayload, at time.Time) error {
	_, err := j.db.Exec(ctx,
		`INSERT INTO combat_log (at, region_id, tick, attacker_id, defender_id, spell_id, damage, critical, damage_type, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(), int(p.RegionID), int64(p.Tick), int64(p.AttackerID), int64(p.DefenderID),
		p.SpellID, p.Damage, p.Critical, p.DamageType, p.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to record damage: %w", err)
	}
	return nil
}

// RecordSecurity stores one security event.
func (j *Journal) RecordSecurity(ctx context.Context, kind, remote, detail string, at time.Time) error {
	_, err := j.db.Exec(ctx,
		`INSERT INTO security_log (at, kind, remote_addr, detail) VALUES (?, ?, ?, ?)`,
		at.UnixMilli(), kind, remote, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record security event: %w", err)
	}
	return nil
}

// RecentCombat returns the newest combat entries, newest first.
func (j *Journal) RecentCombat(ctx context.Context, limit int) ([]CombatEntry, error) {
	rows, err := j.db.Query(ctx,
		`SELECT id, at, region_id, tick, attacker_id, defender_id, spell_id, damage, critical, damage_type, outcome
		 FROM combat_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query combat log: %w", err)
	}
	defer rows.Close()

	var out []CombatEntry
	for rows.Next() {
		var (
			e   CombatEntry
			at  int64
			rid int
		)
		if err := rows.Scan(&e.ID, &at, &rid, &e.Tick, &e.AttackerID, &e.DefenderID,
			&e.SpellID, &e.Damage, &e.Critical, &e.DamageType, &e.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan combat entry: %w", err)
		}
		e.At = time.UnixMilli(at)
		e.RegionID = uint16(rid)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentSecurity returns the newest security entries, newest first.
func (j *Journal) RecentSecurity(ctx context.Context, limit int) ([]SecurityEntry, error) {
	rows, err := j.db.Query(ctx,
		`SELECT id, at, kind, remote_addr, detail FROM security_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security log: %w", err)
	}
	defer rows.Close()

	var out []SecurityEntry
	for rows.Next() {
		var (
			e  SecurityEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.RemoteAddr, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan security entry: %w", err)
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before from both tables.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"combat_log", "security_log"} {
		res, err := j.db.Exec(ctx, `DELETE FROM `+table+` WHERE at < ?`, before.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		log.Info().Int64("rows", total).Time("before", before).Msg("journal pruned")
	}
	return total, nil
}

// Subscribe records damage and security events from the bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventDamageDealt, "journal.combat", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.DamagePayload)
		if !ok {
			return nil
		}
		return j.RecordDamage(ctx, p, time.Now())
	})
	bus.Subscribe(events.EventSessionMismatch, "journal.mismatch", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.SessionMismatchPayload)
		if !ok {
			return nil
		}
		detail := fmt.Sprintf("opcode 0x%02X declared token %d, assigned %d", p.Opcode, p.DeclaredToken, p.ExpectedToken)
		return j.RecordSecurity(ctx, string(events.EventSessionMismatch), p.RemoteAddr, detail, time.Now())
	})
	bus.Subscribe(events.EventUnknownZone, "journal.zone", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.UnknownZonePayload)
		if !ok {
			return nil
		}
		detail := fmt.Sprintf("region %d actor %d zone %d", p.RegionID, p.ActorID, p.ZoneID)
		return j.RecordSecurity(ctx, string(events.EventUnknownZone), "", detail, time.Now())
	})
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}
