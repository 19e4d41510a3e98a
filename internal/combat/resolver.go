package combat

import (
	"github.com/energizer-project/realmcore/internal/world"
)

// Roller is the injected randomness source. *math/rand.Rand satisfies it.
type Roller interface {
	Intn(n int) int
}

// Params are the inputs of one resolution.
type Params struct {
	SpellID      uint16
	BaseDamage   int
	DamageType   world.DamageType
	ResistChance int // percent chance of a full resist
	CritChance   int // percent chance of a critical portion
	UsesAmmo     bool
	Mitigators   []Mitigator // defender's mitigators in effect-application order
}

// AmmoSource reports the damage type of the attacker's active ammunition.
type AmmoSource interface {
	AmmoDamageType(attacker *world.Actor) (world.DamageType, bool)
}

// Resolver turns Params into AttackData. It consumes exactly one roll per
// resolution and is otherwise deterministic.
type Resolver struct {
	roller Roller
	ammo   AmmoSource
}

// NewResolver creates a resolver. ammo may be nil.
func NewResolver(roller Roller, ammo AmmoSource) *Resolver {
	return &Resolver{roller: roller, ammo: ammo}
}

// SetAmmoSource replaces the ammunition lookup.
func (r *Resolver) SetAmmoSource(ammo AmmoSource) { r.ammo = ammo }

// Resolve computes base damage, substitutes the ammunition damage type,
// applies resists, consults mitigators in order and finalizes the record.
func (r *Resolver) Resolve(attacker, defender *world.Actor, p Params) AttackData {
	roll := r.roller.Intn(10000)
	resistRoll, critRoll := roll/100, roll%100

	ad := AttackData{
		attackerID: attacker.ID,
		defenderID: defender.ID,
		spellID:    p.SpellID,
		damageType: p.DamageType,
		outcome:    Hit,
	}

	if resistRoll < p.ResistChance {
		ad.outcome = Resisted
		return ad
	}

	damage := max(p.BaseDamage, 0)
	if p.UsesAmmo && r.ammo != nil {
		if dt, ok := r.ammo.AmmoDamageType(attacker); ok {
			ad.damageType = dt
		}
	}
	damage -= damage * defender.Resist(ad.damageType) / 100
	ad.damage = damage
	if critRoll < p.CritChance {
		ad.critical = damage / 2
	}

	for _, mit := range p.Mitigators {
		m := &Mitigation{data: &ad, name: mit.MitigatorName()}
		mit.Mitigate(m)
		if ad.outcome == Missed {
			break
		}
	}
	return ad
}

// Apply subtracts the finalized damage from the defender and returns the
// health actually removed.
func Apply(defender *world.Actor, ad AttackData) int {
	if ad.Outcome() != Hit || ad.Total() <= 0 {
		return 0
	}
	return -defender.ChangeHealth(-ad.Total())
}
