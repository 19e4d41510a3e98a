// Package combat resolves attacks into immutable AttackData records.
package combat

import "github.com/energizer-project/realmcore/internal/world"

// Outcome is the result code of a resolution.
type Outcome int

const (
	Hit Outcome = iota
	Missed
	Resisted
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Missed:
		return "missed"
	case Resisted:
		return "resisted"
	}
	return "unknown"
}

// AttackData is the record of one resolution. Its fields are unexported so a
// finalized value cannot change; only a Mitigation may rewrite it first.
type AttackData struct {
	attackerID uint32
	defenderID uint32
	spellID    uint16
	damage     int
	critical   int
	damageType world.DamageType
	outcome    Outcome
	mitigated  []string
}

func (a AttackData) AttackerID() uint32           { return a.attackerID }
func (a AttackData) DefenderID() uint32           { return a.defenderID }
func (a AttackData) SpellID() uint16              { return a.spellID }
func (a AttackData) Damage() int                  { return a.damage }
func (a AttackData) Critical() int                { return a.critical }
func (a AttackData) DamageType() world.DamageType { return a.damageType }
func (a AttackData) Outcome() Outcome             { return a.outcome }

// Total is damage plus the critical portion.
func (a AttackData) Total() int { return a.damage + a.critical }

// MitigatedBy lists the mitigators that rewrote the record, in order.
func (a AttackData) MitigatedBy() []string {
	return append([]string(nil), a.mitigated...)
}

// Mitigation is the only handle through which an AttackData can be changed.
// It is valid only during a Mitigator's Mitigate call.
type Mitigation struct {
	data *AttackData
	name string
}

// Data returns a copy of the record under mitigation.
func (m *Mitigation) Data() AttackData { return *m.data }

// Miss flips the outcome to Missed and zeroes the damage.
func (m *Mitigation) Miss() {
	m.data.outcome = Missed
	m.data.damage = 0
	m.data.critical = 0
	m.touch()
}

// SetDamageType rewrites the damage type.
func (m *Mitigation) SetDamageType(dt world.DamageType) {
	m.data.damageType = dt
	m.touch()
}

// Absorb removes up to amount damage, critical portion first, and returns how
// much was absorbed.
func (m *Mitigation) Absorb(amount int) int {
	if amount <= 0 {
		return 0
	}
	fromCrit := min(amount, m.data.critical)
	m.data.critical -= fromCrit
	fromBase := min(amount-fromCrit, m.data.damage)
	m.data.damage -= fromBase
	m.touch()
	return fromCrit + fromBase
}

func (m *Mitigation) touch() {
	if n := len(m.data.mitigated); n > 0 && m.data.mitigated[n-1] == m.name {
		return
	}
	m.data.mitigated = append(m.data.mitigated, m.name)
}

// Mitigator is an active effect consulted before an AttackData is finalized.
type Mitigator interface {
	MitigatorName() string
	Mitigate(m *Mitigation)
}
